package predicate

import (
	"fmt"
	"reflect"
	"strings"

	"gorm.io/gorm/clause"
)

// Separator joins the segments of a lookup key
const Separator = "__"

// lookup operators
const (
	Exact       = "exact"
	IExact      = "iexact"
	Ne          = "ne"
	Gt          = "gt"
	Gte         = "gte"
	Lt          = "lt"
	Lte         = "lte"
	In          = "in"
	Contains    = "contains"
	IContains   = "icontains"
	StartsWith  = "startswith"
	IStartsWith = "istartswith"
	EndsWith    = "endswith"
	IEndsWith   = "iendswith"
	Regex       = "regex"
	IRegex      = "iregex"
	IsNull      = "isnull"
)

var operators = map[string]bool{
	Exact: true, IExact: true, Ne: true, Gt: true, Gte: true, Lt: true, Lte: true, In: true,
	Contains: true, IContains: true, StartsWith: true, IStartsWith: true, EndsWith: true,
	IEndsWith: true, Regex: true, IRegex: true, IsNull: true,
}

// IsOperator reports whether name is a lookup operator
func IsOperator(name string) bool {
	return operators[name]
}

// ParseLookup splits "a__b__operator" into its path and operator, the operator defaulting to exact
func ParseLookup(key string) (path []string, op string, err error) {
	parts := strings.Split(key, Separator)
	for _, part := range parts {
		if part == "" {
			return nil, "", fmt.Errorf("%w: malformed lookup %q", ErrUnknownLookup, key)
		}
	}

	if last := parts[len(parts)-1]; len(parts) > 1 && operators[last] {
		return parts[:len(parts)-1], last, nil
	}
	return parts, Exact, nil
}

// Invert returns the operator that keeps a comparison true once its operands are swapped.
// Only equality and ordering comparisons can be inverted.
func Invert(op string) (string, bool) {
	switch op {
	case Exact, Ne:
		return op, true
	case Gt:
		return Lt, true
	case Gte:
		return Lte, true
	case Lt:
		return Gt, true
	case Lte:
		return Gte, true
	}
	return "", false
}

// Build returns the expression applying op to column and a resolved value
func Build(op string, column clause.Column, value interface{}) (clause.Expression, error) {
	switch op {
	case Exact:
		return clause.Eq{Column: column, Value: value}, nil
	case IExact:
		return clause.Expr{SQL: "LOWER(?) = LOWER(?)", Vars: []interface{}{column, value}}, nil
	case Ne:
		return clause.Neq{Column: column, Value: value}, nil
	case Gt:
		return clause.Gt{Column: column, Value: value}, nil
	case Gte:
		return clause.Gte{Column: column, Value: value}, nil
	case Lt:
		return clause.Lt{Column: column, Value: value}, nil
	case Lte:
		return clause.Lte{Column: column, Value: value}, nil
	case In:
		return buildIn(column, value)
	case Contains, IContains:
		return Pattern{Column: column, Value: value, Prefix: true, Suffix: true, Insensitive: op == IContains}, nil
	case StartsWith, IStartsWith:
		return Pattern{Column: column, Value: value, Suffix: true, Insensitive: op == IStartsWith}, nil
	case EndsWith, IEndsWith:
		return Pattern{Column: column, Value: value, Prefix: true, Insensitive: op == IEndsWith}, nil
	case Regex, IRegex:
		return Match{Column: column, Value: value, Insensitive: op == IRegex}, nil
	case IsNull:
		isNull, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: isnull expects a bool, got %T", ErrUnknownLookup, value)
		}
		if isNull {
			return clause.Eq{Column: column, Value: nil}, nil
		}
		return clause.Neq{Column: column, Value: nil}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownLookup, op)
}

func buildIn(column clause.Column, value interface{}) (clause.Expression, error) {
	switch v := value.(type) {
	case clause.Column:
		return nil, fmt.Errorf("%w: in expects a list or a subquery, got column %s", ErrUnknownLookup, v.Name)
	case clause.Expression:
		return clause.Expr{SQL: "? IN (?)", Vars: []interface{}{column, v}}, nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: in expects a list, got %T", ErrUnknownLookup, value)
	}
	values := make([]interface{}, rv.Len())
	for i := range values {
		values[i] = rv.Index(i).Interface()
	}
	return clause.IN{Column: column, Values: values}, nil
}

// operand reports whether v is built as SQL rather than bound as a parameter
func operand(v interface{}) bool {
	switch v.(type) {
	case clause.Column, clause.Expression:
		return true
	}
	return false
}

// Pattern matches Column with LIKE against Value, adding wildcards on the requested ends.
// Literal values are escaped before binding; column and expression values are escaped in SQL.
type Pattern struct {
	Column      clause.Column
	Value       interface{}
	Prefix      bool
	Suffix      bool
	Insensitive bool
}

func (p Pattern) Build(builder clause.Builder) {
	dialect := Dialect(builder)

	p.lower(builder, func() { builder.WriteQuoted(p.Column) })
	builder.WriteString(" LIKE ")
	p.lower(builder, func() {
		if operand(p.Value) {
			parts := make([]clause.Expression, 0, 3)
			if p.Prefix {
				parts = append(parts, sqlText("'%'"))
			}
			parts = append(parts, likeEscaped{value: p.Value, dialect: dialect})
			if p.Suffix {
				parts = append(parts, sqlText("'%'"))
			}
			Concatenation{Parts: parts}.Build(builder)
			return
		}

		pattern := EscapeLike(fmt.Sprint(p.Value))
		if p.Prefix {
			pattern = "%" + pattern
		}
		if p.Suffix {
			pattern += "%"
		}
		builder.AddVar(builder, pattern)
	})

	if dialect == "mysql" {
		builder.WriteString(` ESCAPE '\\'`)
	} else {
		builder.WriteString(` ESCAPE '\'`)
	}
}

func (p Pattern) lower(builder clause.Builder, fn func()) {
	if p.Insensitive {
		builder.WriteString("LOWER(")
		fn()
		builder.WriteByte(')')
		return
	}
	fn()
}

// EscapeLike escapes the LIKE wildcards of s with a backslash
func EscapeLike(s string) string {
	return likeReplacer.Replace(s)
}

var likeReplacer = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type likeEscaped struct {
	value   interface{}
	dialect string
}

func (e likeEscaped) Build(builder clause.Builder) {
	backslash, doubled := `'\'`, `'\\'`
	if e.dialect == "mysql" {
		backslash, doubled = `'\\'`, `'\\\\'`
	}

	builder.WriteString("REPLACE(REPLACE(REPLACE(")
	bound{value: e.value}.Build(builder)
	builder.WriteString(", " + backslash + ", " + doubled + "), '%', '\\%'), '_', '\\_')")
}

// Match matches Column against the regular expression Value
type Match struct {
	Column      clause.Column
	Value       interface{}
	Insensitive bool
}

func (m Match) Build(builder clause.Builder) {
	builder.WriteQuoted(m.Column)

	switch Dialect(builder) {
	case "postgres":
		if m.Insensitive {
			builder.WriteString(" ~* ")
		} else {
			builder.WriteString(" ~ ")
		}
		bound{value: m.Value}.Build(builder)
	case "mysql":
		if m.Insensitive {
			builder.WriteString(" REGEXP ")
		} else {
			builder.WriteString(" REGEXP BINARY ")
		}
		bound{value: m.Value}.Build(builder)
	case "sqlserver":
		builder.AddError(fmt.Errorf("%w: regex is not available on sqlserver", ErrUnknownLookup))
	default:
		builder.WriteString(" REGEXP ")
		if m.Insensitive {
			builder.WriteString("'(?i)' || ")
		}
		bound{value: m.Value}.Build(builder)
	}
}
