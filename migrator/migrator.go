package migrator

import (
	"errors"
	"fmt"
	"reflect"
	"sort"

	"gorm.io/gorm"

	"github.com/gorm-relativity/relativity"
	"github.com/gorm-relativity/relativity/predicate"
)

// ErrMissingColumn a relationship predicate names a column missing from the migrated table
var ErrMissingColumn = errors.New("relationship column missing from table")

// Relater a model declaring relationships, registered when it is migrated
type Relater interface {
	Relationships() []relativity.Declaration
}

// Migrator migrator struct
type Migrator struct {
	*Config
}

// Config migrator config
type Config struct {
	DB *gorm.DB
	// SkipValidation don't check the columns of relationship predicates against the tables
	SkipValidation bool
}

// New returns a migrator for db
func New(db *gorm.DB) Migrator {
	return Migrator{Config: &Config{DB: db}}
}

// AutoMigrate migrates models, then registers the relationships of every Relater among them
// and checks that their predicates name existing columns
func AutoMigrate(db *gorm.DB, models ...interface{}) error {
	return New(db).AutoMigrate(models...)
}

// AutoMigrate migrates models and registers their relationships
func (m Migrator) AutoMigrate(models ...interface{}) error {
	if err := m.DB.AutoMigrate(models...); err != nil {
		return err
	}

	var decls []relativity.Declaration
	for _, model := range models {
		if relater, ok := model.(Relater); ok {
			for _, decl := range relater.Relationships() {
				if !relativity.Registered(m.DB, decl) {
					decls = append(decls, decl)
				}
			}
		}
	}
	if err := relativity.Register(m.DB, decls...); err != nil {
		return err
	}

	if m.SkipValidation {
		return nil
	}
	return m.Validate(models...)
}

// Validate checks that the tables of models have the columns their relationships compare
func (m Migrator) Validate(models ...interface{}) error {
	for _, model := range models {
		relations, err := relativity.Relations(m.DB, model)
		if err != nil {
			return err
		}

		names := make([]string, 0, len(relations))
		for name := range relations {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			field, ok := relations[name].(*relativity.Field)
			if !ok {
				continue
			}
			far, near := predicate.References(field.Predicate())
			if err := m.hasColumns(field, field.To().ModelType, far); err != nil {
				return err
			}
			if err := m.hasColumns(field, field.From().ModelType, near); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m Migrator) hasColumns(field *relativity.Field, modelType reflect.Type, columns []string) error {
	value := reflect.New(modelType).Interface()
	for _, column := range columns {
		if !m.DB.Migrator().HasColumn(value, column) {
			return fmt.Errorf("%w: %s compares %s.%s", ErrMissingColumn, field, modelType.Name(), column)
		}
	}
	return nil
}
