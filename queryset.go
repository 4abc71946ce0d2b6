package relativity

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// Filter lookups keyed by "relation__relation__column__operator", all of which must hold
type Filter map[string]interface{}

func (f Filter) keys() []string {
	keys := make([]string, 0, len(f))
	for key := range f {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type filterGroup struct {
	filter  Filter
	exclude bool
}

type knownRelated struct {
	name  string
	value interface{}
}

// QuerySet a lazily compiled query over T that follows relationships in its lookups.
// Every chain method returns a new QuerySet; the first error is kept and returned by finishers.
type QuerySet[T any] struct {
	db       *gorm.DB
	plugin   *Plugin
	groups   []filterGroup
	orders   []string
	distinct bool
	limit    int
	offset   int
	selects  []string
	prefetch []string
	known    []knownRelated
	result   []T
	cached   bool
	err      error
}

// Query starts a QuerySet over T
func Query[T any](db *gorm.DB) *QuerySet[T] {
	p, err := pluginOf(db)
	return &QuerySet[T]{db: db, plugin: p, limit: -1, err: err}
}

func (qs *QuerySet[T]) clone() *QuerySet[T] {
	c := *qs
	c.groups = append([]filterGroup(nil), qs.groups...)
	c.orders = append([]string(nil), qs.orders...)
	c.selects = append([]string(nil), qs.selects...)
	c.prefetch = append([]string(nil), qs.prefetch...)
	c.known = append([]knownRelated(nil), qs.known...)
	c.result, c.cached = nil, false
	return &c
}

// Err the first error met while building the query
func (qs *QuerySet[T]) Err() error {
	return qs.err
}

// AddError keeps err when it is the first error
func (qs *QuerySet[T]) AddError(err error) *QuerySet[T] {
	c := qs.clone()
	if c.err == nil {
		c.err = err
	}
	return c
}

// Filter keeps rows matching key
func (qs *QuerySet[T]) Filter(key string, value interface{}) *QuerySet[T] {
	return qs.Where(Filter{key: value})
}

// Where keeps rows matching every lookup of filter; relations named in one filter share their joins
func (qs *QuerySet[T]) Where(filter Filter) *QuerySet[T] {
	c := qs.clone()
	c.groups = append(c.groups, filterGroup{filter: filter})
	return c
}

// Exclude drops rows matching key
func (qs *QuerySet[T]) Exclude(key string, value interface{}) *QuerySet[T] {
	return qs.ExcludeWhere(Filter{key: value})
}

// ExcludeWhere drops rows matching every lookup of filter
func (qs *QuerySet[T]) ExcludeWhere(filter Filter) *QuerySet[T] {
	c := qs.clone()
	c.groups = append(c.groups, filterGroup{filter: filter, exclude: true})
	return c
}

// Order sorts by columns, "-column" for descending
func (qs *QuerySet[T]) Order(columns ...string) *QuerySet[T] {
	c := qs.clone()
	c.orders = append(c.orders, columns...)
	return c
}

// Distinct removes duplicated rows, which joins across multi valued relations produce
func (qs *QuerySet[T]) Distinct() *QuerySet[T] {
	c := qs.clone()
	c.distinct = true
	return c
}

// Limit caps the number of rows, negative for no limit
func (qs *QuerySet[T]) Limit(limit int) *QuerySet[T] {
	c := qs.clone()
	c.limit = limit
	return c
}

// Offset skips rows
func (qs *QuerySet[T]) Offset(offset int) *QuerySet[T] {
	c := qs.clone()
	c.offset = offset
	return c
}

// Select restricts the query to columns, used as a subquery value of "__in" lookups
func (qs *QuerySet[T]) Select(columns ...string) *QuerySet[T] {
	c := qs.clone()
	c.selects = columns
	return c
}

// Prefetch loads the named relations of the found rows, one query per relation and batch
func (qs *QuerySet[T]) Prefetch(names ...string) *QuerySet[T] {
	c := qs.clone()
	c.prefetch = append(c.prefetch, names...)
	return c
}

// Cached whether the QuerySet holds prefetched rows instead of querying
func (qs *QuerySet[T]) Cached() bool {
	return qs.cached
}

func (qs *QuerySet[T]) withKnown(name string, value interface{}) *QuerySet[T] {
	c := qs.clone()
	c.known = append(c.known, knownRelated{name: name, value: value})
	return c
}

func (qs *QuerySet[T]) schema() (*schema.Schema, error) {
	if qs.plugin == nil {
		return nil, ErrPluginNotRegistered
	}
	return qs.plugin.parse(new(T))
}

// Build writes the query as a subquery, QuerySet can be used as the value of an "__in" lookup
func (qs *QuerySet[T]) Build(b clause.Builder) {
	if qs.err != nil {
		b.AddError(qs.err)
		return
	}
	s, err := qs.schema()
	if err != nil {
		b.AddError(err)
		return
	}

	prefix, ctx := "U", contextOf(qs.db)
	if outer, ok := b.(*builder); ok {
		outer.depth++
		defer func() { outer.depth-- }()
		prefix = fmt.Sprintf("%s%d_", prefix, outer.depth)
		ctx = outer.stmt.Context
	}
	stmt, err := qs.compile(ctx, s, prefix, nil)
	if err != nil {
		b.AddError(err)
		return
	}
	stmt.Build(b)
}

// ToSQL the SQL and parameters Find would run
func (qs *QuerySet[T]) ToSQL() (string, []interface{}, error) {
	if qs.err != nil {
		return "", nil, qs.err
	}
	s, err := qs.schema()
	if err != nil {
		return "", nil, err
	}
	stmt, err := qs.compile(contextOf(qs.db), s, qs.plugin.AliasPrefix, nil)
	if err != nil {
		return "", nil, err
	}
	return newBuilder(qs.db).build(stmt)
}

func (qs *QuerySet[T]) compile(ctx context.Context, s *schema.Schema, prefix string, key *keyColumn) (*selectStatement, error) {
	c := newCompiler(ctx, qs.db, qs.plugin, NewAliasMap(prefix), s)
	for _, group := range qs.groups {
		if err := c.addGroup(group); err != nil {
			return nil, err
		}
	}

	stmt := &selectStatement{
		distinct: qs.distinct,
		table:    c.table,
		joins:    c.joins,
		where:    c.where,
		limit:    qs.limit,
		offset:   qs.offset,
	}

	if len(qs.selects) > 0 {
		for _, name := range qs.selects {
			column, err := c.column(s, c.base, name)
			if err != nil {
				return nil, err
			}
			stmt.columns = append(stmt.columns, column)
		}
	} else {
		stmt.columns = append(stmt.columns, allColumns(c.base))
	}

	if key != nil {
		aliases := c.aliases.TableAliases(key.table)
		if len(aliases) == 0 {
			return nil, fmt.Errorf("%w: no alias for table %s", ErrAliasNotFound, key.table)
		}
		stmt.columns = append(stmt.columns, clause.Column{Table: aliases[len(aliases)-1], Name: key.column, Alias: prefetchKeyColumn})
	}

	for _, order := range qs.orders {
		desc := len(order) > 0 && order[0] == '-'
		if desc {
			order = order[1:]
		}
		column, err := c.column(s, c.base, order)
		if err != nil {
			return nil, err
		}
		stmt.orders = append(stmt.orders, clause.OrderByColumn{Column: column, Desc: desc})
	}
	return stmt, nil
}

func (qs *QuerySet[T]) execute(ctx context.Context, key *keyColumn) (*gorm.DB, error) {
	s, err := qs.schema()
	if err != nil {
		return nil, err
	}
	stmt, err := qs.compile(ctx, s, qs.plugin.AliasPrefix, key)
	if err != nil {
		return nil, err
	}
	tx := qs.db.WithContext(ctx)
	sql, vars, err := newBuilder(tx).build(stmt)
	if err != nil {
		return nil, err
	}
	return tx.Raw(sql, vars...), nil
}

func (qs *QuerySet[T]) seedKnown(rows []T) {
	for _, known := range qs.known {
		for i := range rows {
			if cache := cacheOf(&rows[i]); cache != nil {
				cache.set(known.name, known.value)
			}
		}
	}
}

// primaryKeys turns instances of s, or slices of them, into primary key values; other values are
// returned as they are
func primaryKeys(ctx context.Context, s *schema.Schema, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	if _, ok := value.(clause.Expression); ok {
		return value, nil
	}

	pk := s.PrioritizedPrimaryField
	if pk == nil {
		return nil, fmt.Errorf("%w: %s", gorm.ErrPrimaryKeyRequired, s.Name)
	}

	keyOf := func(v reflect.Value) (interface{}, bool) {
		for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
			if v.IsNil() {
				return nil, false
			}
			v = v.Elem()
		}
		if v.Type() != s.ModelType {
			return nil, false
		}
		key, _ := pk.ValueOf(ctx, v)
		return key, true
	}

	rv := reflect.ValueOf(value)
	if key, ok := keyOf(rv); ok {
		return key, nil
	}
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		keys := make([]interface{}, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem := rv.Index(i)
			if key, ok := keyOf(elem); ok {
				keys = append(keys, key)
			} else {
				keys = append(keys, elem.Interface())
			}
		}
		return keys, nil
	}
	return value, nil
}
