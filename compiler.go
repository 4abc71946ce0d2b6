package relativity

import (
	"context"
	"fmt"

	"github.com/jinzhu/now"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/gorm-relativity/relativity/logger"
	"github.com/gorm-relativity/relativity/predicate"
)

type join struct {
	table clause.Table
	on    clause.Expression
}

// compiler turns filter groups into joins and conditions over one alias map
type compiler struct {
	ctx     context.Context
	db      *gorm.DB
	plugin  *Plugin
	aliases *AliasMap
	schema  *schema.Schema
	base    string
	table   clause.Table
	joins   []join
	where   []clause.Expression
}

func newCompiler(ctx context.Context, db *gorm.DB, p *Plugin, aliases *AliasMap, s *schema.Schema) *compiler {
	base := aliases.Base(s)
	return &compiler{ctx: ctx, db: db, plugin: p, aliases: aliases, schema: s, base: base, table: tableAs(s, base)}
}

func tableAs(s *schema.Schema, alias string) clause.Table {
	table := clause.Table{Name: s.Table}
	if alias != s.Table {
		table.Alias = alias
	}
	return table
}

func (c *compiler) addGroup(group filterGroup) error {
	exprs := make([]clause.Expression, 0, len(group.filter))
	if !group.exclude {
		reuse := map[string]string{}
		for _, key := range group.filter.keys() {
			expr, err := c.lookup(c.schema, c.base, key, group.filter[key], reuse)
			if err != nil {
				return err
			}
			exprs = append(exprs, expr)
		}
		c.where = append(c.where, predicate.Join(exprs...))
		return nil
	}

	for _, key := range group.filter.keys() {
		expr, err := c.excluded(key, group.filter[key])
		if err != nil {
			return err
		}
		exprs = append(exprs, expr)
	}
	c.where = append(c.where, predicate.Negation{Expr: predicate.Join(exprs...)})
	return nil
}

// lookup resolves key starting from table s at alias, joining every relation the key walks through.
// reuse maps the relation paths already joined to their aliases.
func (c *compiler) lookup(s *schema.Schema, alias, key string, value interface{}, reuse map[string]string) (clause.Expression, error) {
	path, op, err := predicate.ParseLookup(key)
	if err != nil {
		return nil, err
	}
	return c.walk(s, alias, path, op, value, reuse, "")
}

func (c *compiler) walk(s *schema.Schema, alias string, path []string, op string, value interface{}, reuse map[string]string, walked string) (clause.Expression, error) {
	for idx, segment := range path {
		if e, ok := c.plugin.relation(s, segment); ok {
			walked += predicate.Separator + segment
			joined, ok := reuse[walked]
			if !ok {
				var err error
				if joined, err = c.join(e.relation, alias); err != nil {
					return nil, err
				}
				reuse[walked] = joined
			}
			s, alias = e.relation.To(), joined
			continue
		}

		if idx != len(path)-1 {
			return nil, fmt.Errorf("%w: %q is not a relation of %s", ErrUnknownRelation, segment, s.Name)
		}
		return c.condition(s, alias, segment, op, value)
	}

	// the path ends on a relation, compare the primary key of its target
	pk := s.PrioritizedPrimaryField
	if pk == nil {
		return nil, fmt.Errorf("%w: %s", gorm.ErrPrimaryKeyRequired, s.Name)
	}
	keys, err := primaryKeys(c.ctx, s, value)
	if err != nil {
		return nil, err
	}
	return predicate.Build(op, clause.Column{Table: alias, Name: pk.DBName}, keys)
}

func (c *compiler) condition(s *schema.Schema, alias, name, op string, value interface{}) (clause.Expression, error) {
	side := predicate.Side{Schema: s, Alias: alias}
	column, err := side.Column(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownRelation, err)
	}

	ctx := &predicate.Context{Far: side}
	resolved, err := ctx.Operand(value)
	if err != nil {
		return nil, err
	}
	if field := s.LookUpField(name); field != nil && field.GORMDataType == schema.Time {
		if resolved, err = parseTimes(resolved); err != nil {
			return nil, err
		}
	}
	return predicate.Build(op, column, resolved)
}

// parseTimes parses strings compared with time columns
func parseTimes(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return now.Parse(v)
	case []string:
		times := make([]interface{}, 0, len(v))
		for _, s := range v {
			t, err := now.Parse(s)
			if err != nil {
				return nil, err
			}
			times = append(times, t)
		}
		return times, nil
	}
	return value, nil
}

// join adds the target of relation, joined from parent, and returns its alias
func (c *compiler) join(relation Relation, parent string) (string, error) {
	info := relation.PathInfo()[0]
	alias := c.aliases.Join(info.To)
	on, err := c.restrict(relation, alias, parent)
	if err != nil {
		return "", err
	}
	c.joins = append(c.joins, join{table: tableAs(info.To, alias), on: on})
	return alias, nil
}

func (c *compiler) restrict(relation Relation, joined, parent string) (clause.Expression, error) {
	restriction := relation.ExtraRestriction(joined, parent)
	on, err := restriction.Resolve(c.aliases)
	if err != nil {
		return nil, err
	}

	direction := predicate.Forward
	if !restriction.Forward {
		direction = predicate.Reverse
	}
	event := logger.Event{
		Kind:      logger.EventRestriction,
		Relation:  relation.String(),
		Model:     relation.From().Name,
		Target:    relation.To().Name,
		Direction: direction.String(),
		Alias:     joined,
	}
	if c.plugin.Logger != nil {
		event.SQL, _, _ = newBuilder(c.db).build(on)
	}
	c.plugin.log(c.ctx, event)
	return on, nil
}

// excluded a condition whose negation drops the rows matching key. Keys through a relation become
// EXISTS subqueries so that a row is dropped only when one related row matches.
func (c *compiler) excluded(key string, value interface{}) (clause.Expression, error) {
	path, op, err := predicate.ParseLookup(key)
	if err != nil {
		return nil, err
	}
	e, ok := c.plugin.relation(c.schema, path[0])
	if !ok {
		return c.walk(c.schema, c.base, path, op, value, map[string]string{}, "")
	}

	sub := &compiler{ctx: c.ctx, db: c.db, plugin: c.plugin, aliases: c.aliases.Clone(), schema: e.relation.To()}
	sub.base = sub.aliases.Join(e.relation.To())
	sub.table = tableAs(e.relation.To(), sub.base)
	on, err := sub.restrict(e.relation, sub.base, c.base)
	if err != nil {
		return nil, err
	}

	cond, err := sub.walk(sub.schema, sub.base, path[1:], op, value, map[string]string{}, path[0])
	if err != nil {
		return nil, err
	}
	sub.where = append(sub.where, on, cond)
	c.aliases.next = sub.aliases.next

	return exists{stmt: &selectStatement{
		columns: []interface{}{clause.Expr{SQL: "1"}},
		table:   sub.table,
		joins:   sub.joins,
		where:   sub.where,
		limit:   -1,
	}}, nil
}

// column resolves a column of s, used by Select and Order
func (c *compiler) column(s *schema.Schema, alias, name string) (clause.Column, error) {
	column, err := (predicate.Side{Schema: s, Alias: alias}).Column(name)
	if err != nil {
		return clause.Column{}, fmt.Errorf("%w: %w", ErrUnknownRelation, err)
	}
	return column, nil
}

// keyColumn extra column selected from the most recent alias of table
type keyColumn struct {
	table  string
	column string
}

type selectStatement struct {
	distinct bool
	columns  []interface{}
	table    clause.Table
	joins    []join
	where    []clause.Expression
	orders   []clause.OrderByColumn
	limit    int
	offset   int
}

func (stmt *selectStatement) Build(builder clause.Builder) {
	builder.WriteString("SELECT ")
	if stmt.distinct {
		builder.WriteString("DISTINCT ")
	}
	for idx, column := range stmt.columns {
		if idx > 0 {
			builder.WriteString(", ")
		}
		switch column := column.(type) {
		case clause.Expression:
			column.Build(builder)
		default:
			builder.WriteQuoted(column)
		}
	}

	builder.WriteString(" FROM ")
	builder.WriteQuoted(stmt.table)
	for _, j := range stmt.joins {
		builder.WriteString(" INNER JOIN ")
		builder.WriteQuoted(j.table)
		builder.WriteString(" ON ")
		j.on.Build(builder)
	}

	if len(stmt.where) > 0 {
		builder.WriteString(" WHERE ")
		for idx, expr := range stmt.where {
			if idx > 0 {
				builder.WriteString(" AND ")
			}
			expr.Build(builder)
		}
	}

	if len(stmt.orders) > 0 {
		builder.WriteString(" ORDER BY ")
		for idx, order := range stmt.orders {
			if idx > 0 {
				builder.WriteString(", ")
			}
			builder.WriteQuoted(order.Column)
			if order.Desc {
				builder.WriteString(" DESC")
			}
		}
	}

	if stmt.limit >= 0 {
		builder.WriteString(" LIMIT ")
		builder.AddVar(builder, stmt.limit)
	} else if stmt.offset > 0 {
		// an OFFSET needs a LIMIT on these dialects
		switch predicate.Dialect(builder) {
		case "sqlite":
			builder.WriteString(" LIMIT -1")
		case "mysql":
			builder.WriteString(" LIMIT 18446744073709551615")
		}
	}
	if stmt.offset > 0 {
		builder.WriteString(" OFFSET ")
		builder.AddVar(builder, stmt.offset)
	}
}

type allColumns string

func (a allColumns) Build(builder clause.Builder) {
	builder.WriteQuoted(string(a))
	builder.WriteString(".*")
}

type exists struct {
	stmt *selectStatement
}

func (e exists) Build(builder clause.Builder) {
	builder.WriteString("EXISTS (")
	e.stmt.Build(builder)
	builder.WriteByte(')')
}

type count struct {
	stmt *selectStatement
}

func (c count) Build(builder clause.Builder) {
	builder.WriteString("SELECT COUNT(*) FROM (")
	c.stmt.Build(builder)
	builder.WriteString(") ")
	builder.WriteQuoted("relativity_count")
}
