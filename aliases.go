package relativity

import (
	"strconv"

	"gorm.io/gorm/schema"
)

// AliasMap the table aliases of one query, in the order they were added.
// Aliases are only ever appended, so a table joined later always has a greater position.
type AliasMap struct {
	prefix  string
	aliases []string
	schemas map[string]*schema.Schema
	next    int
}

// NewAliasMap returns an empty alias map naming joined tables prefix1, prefix2...
func NewAliasMap(prefix string) *AliasMap {
	return &AliasMap{prefix: prefix, schemas: map[string]*schema.Schema{}, next: 1}
}

// Base adds the table a query selects from, aliased by its own name
func (m *AliasMap) Base(s *schema.Schema) string {
	alias := s.Table
	if _, ok := m.schemas[alias]; ok {
		return m.Join(s)
	}
	m.add(alias, s)
	return alias
}

// Join adds a joined table and returns its alias
func (m *AliasMap) Join(s *schema.Schema) string {
	for {
		alias := m.prefix + strconv.Itoa(m.next)
		m.next++
		if _, ok := m.schemas[alias]; !ok {
			m.add(alias, s)
			return alias
		}
	}
}

func (m *AliasMap) add(alias string, s *schema.Schema) {
	m.aliases = append(m.aliases, alias)
	m.schemas[alias] = s
}

// Index position of alias, -1 when missing
func (m *AliasMap) Index(alias string) int {
	for idx, a := range m.aliases {
		if a == alias {
			return idx
		}
	}
	return -1
}

// Schema the model aliased by alias
func (m *AliasMap) Schema(alias string) (*schema.Schema, bool) {
	s, ok := m.schemas[alias]
	return s, ok
}

// Aliases all aliases, oldest first
func (m *AliasMap) Aliases() []string {
	return append([]string(nil), m.aliases...)
}

// TableAliases the aliases of table, oldest first
func (m *AliasMap) TableAliases(table string) []string {
	var aliases []string
	for _, alias := range m.aliases {
		if m.schemas[alias].Table == table {
			aliases = append(aliases, alias)
		}
	}
	return aliases
}

// Len number of aliases
func (m *AliasMap) Len() int {
	return len(m.aliases)
}

// Clone copies the map, aliases added to the copy don't affect m
func (m *AliasMap) Clone() *AliasMap {
	clone := &AliasMap{prefix: m.prefix, aliases: m.Aliases(), schemas: make(map[string]*schema.Schema, len(m.schemas)), next: m.next}
	for alias, s := range m.schemas {
		clone.schemas[alias] = s
	}
	return clone
}
