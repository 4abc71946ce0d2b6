package relativity

import (
	"context"
	"database/sql/driver"
	"errors"
	"reflect"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// builder writes expressions as SQL with ? placeholders, quoting identifiers for the dialect of
// its database. The result is handed to gorm's Raw, which rebinds the placeholders.
type builder struct {
	strings.Builder
	stmt  *gorm.Statement
	vars  []interface{}
	errs  []error
	depth int
}

func newBuilder(db *gorm.DB) *builder {
	ctx := context.Background()
	if db.Statement != nil && db.Statement.Context != nil {
		ctx = db.Statement.Context
	}
	return &builder{stmt: &gorm.Statement{DB: db, Context: ctx, Clauses: map[string]clause.Clause{}}}
}

func (b *builder) Dialect() string {
	if b.stmt.DB.Dialector == nil {
		return ""
	}
	return b.stmt.DB.Dialector.Name()
}

func (b *builder) WriteQuoted(field interface{}) {
	b.stmt.QuoteTo(&b.Builder, field)
}

func (b *builder) AddVar(writer clause.Writer, vars ...interface{}) {
	for idx, v := range vars {
		if idx > 0 {
			writer.WriteByte(',')
		}

		switch v := v.(type) {
		case clause.Column, clause.Table:
			b.stmt.QuoteTo(writer, v)
		case gorm.Valuer:
			expr := v.GormValue(b.stmt.Context, b.stmt.DB)
			expr.Build(b)
		case clause.Expression:
			v.Build(b)
		case driver.Valuer:
			b.bind(writer, v)
		case []byte:
			b.bind(writer, v)
		case []interface{}:
			b.list(writer, v)
		default:
			rv := reflect.ValueOf(v)
			if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
				values := make([]interface{}, rv.Len())
				for i := range values {
					values[i] = rv.Index(i).Interface()
				}
				b.list(writer, values)
			} else {
				b.bind(writer, v)
			}
		}
	}
}

func (b *builder) bind(writer clause.Writer, v interface{}) {
	b.vars = append(b.vars, v)
	writer.WriteByte('?')
}

func (b *builder) list(writer clause.Writer, values []interface{}) {
	if len(values) == 0 {
		writer.WriteString("(NULL)")
		return
	}
	writer.WriteByte('(')
	b.AddVar(writer, values...)
	writer.WriteByte(')')
}

func (b *builder) AddError(err error) error {
	if err != nil {
		b.errs = append(b.errs, err)
	}
	return err
}

func (b *builder) build(expr clause.Expression) (string, []interface{}, error) {
	expr.Build(b)
	if len(b.errs) > 0 {
		return "", nil, errors.Join(b.errs...)
	}
	return b.String(), b.vars, nil
}
