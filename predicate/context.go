package predicate

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

var (
	// ErrUnknownColumn a predicate names a column its table does not have
	ErrUnknownColumn = errors.New("unknown column")
	// ErrUnknownLookup malformed lookup key or unsupported operator usage
	ErrUnknownLookup = errors.New("unknown lookup")
	// ErrNoLocalContext an L reference resolved outside of a relation
	ErrNoLocalContext = errors.New("local field reference used outside of a relation")
	// ErrJoinInPredicate a predicate lookup spans more than one table
	ErrJoinInPredicate = errors.New("predicates may only reference the two related tables")
)

func joinError(lookup string) error {
	return fmt.Errorf("%w: %q", ErrJoinInPredicate, lookup)
}

// Direction of the traversal a predicate is resolved for
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// Side a table taking part in a resolution, addressed by its alias
type Side struct {
	Schema *schema.Schema
	Alias  string
}

// Column resolves a field or column name of the side into an alias qualified column
func (s Side) Column(name string) (clause.Column, error) {
	if s.Schema == nil {
		return clause.Column{}, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	field := s.Schema.LookUpField(name)
	if field == nil || field.DBName == "" {
		return clause.Column{}, fmt.Errorf("%w: %q on %s", ErrUnknownColumn, name, s.Schema.Name)
	}
	return clause.Column{Table: s.Alias, Name: field.DBName}, nil
}

// Context tells a resolution which table lookups (Far) and L references (Near) refer to
type Context struct {
	Direction Direction
	Far       Side
	Near      *Side
}

// Resolve turns node into an expression whose columns are qualified by the context's aliases
func Resolve(node Node, ctx *Context) (clause.Expression, error) {
	if node == nil {
		return nil, fmt.Errorf("%w: empty predicate", ErrUnknownLookup)
	}
	return node.resolve(ctx)
}

// Operand resolves a lookup value: references become columns, Concat becomes an expression and
// anything else is returned as a value to bind
func (ctx *Context) Operand(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case L:
		if ctx.Near == nil {
			return nil, fmt.Errorf("%w: L(%q)", ErrNoLocalContext, string(v))
		}
		return ctx.Near.Column(string(v))
	case F:
		return ctx.Far.Column(string(v))
	case ConcatExpr:
		parts := make([]clause.Expression, 0, len(v.Parts))
		for _, part := range v.Parts {
			resolved, err := ctx.Operand(part)
			if err != nil {
				return nil, err
			}
			parts = append(parts, bound{value: resolved})
		}
		return Concatenation{Parts: parts}, nil
	case Literal:
		return v.Value, nil
	}
	return v, nil
}

// L references a field of the declaring model, the other side of the relation
type L string

// F references a field of the table the lookup applies to
type F string

// ConcatExpr string concatenation of its parts, built by Concat
type ConcatExpr struct {
	Parts []interface{}
}

// Concat concatenates parts; strings are literals, use L or F for columns
func Concat(parts ...interface{}) ConcatExpr {
	return ConcatExpr{Parts: parts}
}

// Literal a value bound as is, even when it would otherwise be interpreted
type Literal struct {
	Value interface{}
}

// Value wraps v so it is always bound as a parameter
func Value(v interface{}) Literal {
	return Literal{Value: v}
}

// Dialect returns the dialect name of the database builder writes for
func Dialect(builder clause.Builder) string {
	if d, ok := builder.(interface{ Dialect() string }); ok {
		return d.Dialect()
	}
	if stmt, ok := builder.(*gorm.Statement); ok && stmt.DB != nil && stmt.DB.Dialector != nil {
		return stmt.DB.Dialector.Name()
	}
	return ""
}

// Concatenation dialect aware string concatenation
type Concatenation struct {
	Parts []clause.Expression
}

func (c Concatenation) Build(builder clause.Builder) {
	switch Dialect(builder) {
	case "mysql", "sqlserver":
		builder.WriteString("CONCAT(")
		for idx, part := range c.Parts {
			if idx > 0 {
				builder.WriteString(", ")
			}
			part.Build(builder)
		}
		builder.WriteByte(')')
	default:
		builder.WriteByte('(')
		for idx, part := range c.Parts {
			if idx > 0 {
				builder.WriteString(" || ")
			}
			part.Build(builder)
		}
		builder.WriteByte(')')
	}
}

// Negation NOT (Expr)
type Negation struct {
	Expr clause.Expression
}

func (n Negation) Build(builder clause.Builder) {
	builder.WriteString("NOT (")
	n.Expr.Build(builder)
	builder.WriteByte(')')
}

type junction struct {
	sep   string
	exprs []clause.Expression
}

func (j junction) Build(builder clause.Builder) {
	switch len(j.exprs) {
	case 0:
		if strings.TrimSpace(j.sep) == string(OR) {
			builder.WriteString("1 = 0")
		} else {
			builder.WriteString("1 = 1")
		}
	case 1:
		j.exprs[0].Build(builder)
	default:
		builder.WriteByte('(')
		for idx, expr := range j.exprs {
			if idx > 0 {
				builder.WriteString(j.sep)
			}
			expr.Build(builder)
		}
		builder.WriteByte(')')
	}
}

// Join combines exprs with AND, parenthesized when there are several
func Join(exprs ...clause.Expression) clause.Expression {
	return junction{sep: " AND ", exprs: exprs}
}

type sqlText string

func (s sqlText) Build(builder clause.Builder) {
	builder.WriteString(string(s))
}

type bound struct {
	value interface{}
}

func (b bound) Build(builder clause.Builder) {
	switch v := b.value.(type) {
	case clause.Column:
		builder.WriteQuoted(v)
	case clause.Expression:
		v.Build(builder)
	default:
		builder.AddVar(builder, v)
	}
}
