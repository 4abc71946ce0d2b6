package relativity

import (
	"context"
	"fmt"
	"reflect"

	"github.com/jinzhu/inflection"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/gorm-relativity/relativity/logger"
	"github.com/gorm-relativity/relativity/predicate"
)

// Declaration a relationship that can be registered on a database
type Declaration interface {
	contribute(p *Plugin) error
}

// Option relationship option
type Option func(*options)

type options struct {
	multiple        bool
	reverseMultiple bool
	relatedName     string
	nullable        bool
	reverseNullable bool
}

// Multiple whether the declaring model relates to many targets, default true
func Multiple(multiple bool) Option {
	return func(o *options) { o.multiple = multiple }
}

// ReverseMultiple whether a target relates back to many declaring rows, default true
func ReverseMultiple(multiple bool) Option {
	return func(o *options) { o.reverseMultiple = multiple }
}

// RelatedName accessor name of the reverse relation on the target model
func RelatedName(name string) Option {
	return func(o *options) { o.relatedName = name }
}

// Nullable a single valued forward accessor returns nil instead of gorm.ErrRecordNotFound when
// nothing matches
func Nullable() Option {
	return func(o *options) { o.nullable = true }
}

// ReverseNullable Nullable for the reverse accessor
func ReverseNullable() Option {
	return func(o *options) { o.reverseNullable = true }
}

// Relationship relates From to To through a predicate
type Relationship[From, To any] struct {
	name      string
	predicate predicate.Node
	options   options
	self      bool
}

// New declares a relationship called name on From
func New[From, To any](name string, pred predicate.Node, opts ...Option) *Relationship[From, To] {
	r := &Relationship[From, To]{name: name, predicate: pred, options: options{multiple: true, reverseMultiple: true}}
	for _, opt := range opts {
		opt(&r.options)
	}
	return r
}

// NewSelf declares a relationship of M with itself
func NewSelf[M any](name string, pred predicate.Node, opts ...Option) *Relationship[M, M] {
	r := New[M, M](name, pred, opts...)
	r.self = true
	return r
}

func (r *Relationship[From, To]) String() string {
	return r.name
}

func (r *Relationship[From, To]) contribute(p *Plugin) error {
	from, err := p.parse(new(From))
	if err != nil {
		return err
	}
	to := from
	if !r.self {
		if to, err = p.parse(new(To)); err != nil {
			return err
		}
	}

	field := &Field{
		plugin:          p,
		name:            r.name,
		queryName:       p.namer.ColumnName("", r.name),
		relatedName:     r.options.relatedName,
		schema:          from,
		relatedSchema:   to,
		predicate:       r.predicate,
		self:            r.self,
		notNull:         !r.options.nullable,
		reverseNotNull:  !r.options.reverseNullable,
		multiple:        r.options.multiple,
		reverseMultiple: r.options.reverseMultiple,
	}
	if field.relatedName == "" {
		field.relatedName = from.Name
		if field.reverseMultiple {
			field.relatedName = inflection.Plural(from.Name)
		}
	}
	field.relatedQueryName = p.namer.ColumnName("", field.relatedName)
	field.rel = &Rel{field: field}

	if err := validate(field); err != nil {
		return err
	}

	if err := p.install(from, field.Name(), &entry{relation: field, prefetcher: &descriptor[From, To]{plugin: p, relation: field}}); err != nil {
		return err
	}
	if err := p.install(to, field.rel.Name(), &entry{relation: field.rel, prefetcher: &descriptor[To, From]{plugin: p, relation: field.rel}}); err != nil {
		p.uninstall(from, field.Name())
		return err
	}

	p.mu.Lock()
	p.fields[r] = field
	p.mu.Unlock()

	p.log(context.Background(), logger.Event{Kind: logger.EventRegister, Relation: field.String(), Model: from.Name, Target: to.Name})
	return nil
}

func validate(f *Field) error {
	if f.predicate == nil {
		return fmt.Errorf("%w: %s has no predicate", ErrInvalidPredicate, f)
	}
	for _, s := range []*schema.Schema{f.schema, f.relatedSchema} {
		if s.PrioritizedPrimaryField == nil {
			return fmt.Errorf("%w: %s: %s", gorm.ErrPrimaryKeyRequired, f, s.Name)
		}
	}
	if _, ok := f.schema.FieldsByDBName[f.queryName]; ok {
		return fmt.Errorf("%w: relation %s shadows column %s", gorm.ErrInvalidField, f, f.queryName)
	}
	if _, ok := f.relatedSchema.FieldsByDBName[f.relatedQueryName]; ok {
		return fmt.Errorf("%w: relation %s shadows column %s", gorm.ErrInvalidField, f.rel, f.relatedQueryName)
	}

	ctx := &predicate.Context{
		Far:  predicate.Side{Schema: f.relatedSchema, Alias: "related"},
		Near: &predicate.Side{Schema: f.schema, Alias: "local"},
	}
	if _, err := predicate.Resolve(f.predicate, ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidPredicate, f, err)
	}
	return nil
}

func (r *Relationship[From, To]) field(db *gorm.DB) (*Plugin, *Field, error) {
	p, err := pluginOf(db)
	if err != nil {
		return nil, nil, err
	}
	f, err := p.field(r)
	if err != nil {
		return nil, nil, err
	}
	return p, f, nil
}

// Forward manager of the targets of from
func (r *Relationship[From, To]) Forward(db *gorm.DB, from *From) *Manager[To] {
	p, f, err := r.field(db)
	if err == nil && !f.Multiple() {
		err = fmt.Errorf("%w: %s is single valued, use ForwardOne", ErrMultiplicity, f)
	}
	return newManager[To](db, p, relationOf(f), from, err)
}

// ForwardOne accessor of the single target of from
func (r *Relationship[From, To]) ForwardOne(db *gorm.DB, from *From) *Single[To] {
	p, f, err := r.field(db)
	if err == nil && f.Multiple() {
		err = fmt.Errorf("%w: %s is multi valued, use Forward", ErrMultiplicity, f)
	}
	return newSingle[To](db, p, relationOf(f), from, err)
}

// Reverse manager of the declaring rows related to to
func (r *Relationship[From, To]) Reverse(db *gorm.DB, to *To) *Manager[From] {
	p, f, err := r.field(db)
	var rel Relation
	if err == nil {
		rel = f.rel
		if !rel.Multiple() {
			err = fmt.Errorf("%w: %s is single valued, use ReverseOne", ErrMultiplicity, rel)
		}
	}
	return newManager[From](db, p, rel, to, err)
}

// ReverseOne accessor of the single declaring row related to to
func (r *Relationship[From, To]) ReverseOne(db *gorm.DB, to *To) *Single[From] {
	p, f, err := r.field(db)
	var rel Relation
	if err == nil {
		rel = f.rel
		if rel.Multiple() {
			err = fmt.Errorf("%w: %s is multi valued, use Reverse", ErrMultiplicity, rel)
		}
	}
	return newSingle[From](db, p, rel, to, err)
}

// Field the registered forward relation
func (r *Relationship[From, To]) Field(db *gorm.DB) (*Field, error) {
	_, f, err := r.field(db)
	return f, err
}

func relationOf(f *Field) Relation {
	if f == nil {
		return nil
	}
	return f
}

// Related manager of the relation called name on instance, a pointer to a model
func Related[T any](db *gorm.DB, instance interface{}, name string) *Manager[T] {
	p, rel, err := lookupRelation[T](db, instance, name)
	if err == nil && !rel.Multiple() {
		err = fmt.Errorf("%w: %s is single valued", ErrMultiplicity, rel)
	}
	return newManager[T](db, p, rel, instance, err)
}

// RelatedOne accessor of the single valued relation called name on instance
func RelatedOne[T any](db *gorm.DB, instance interface{}, name string) *Single[T] {
	p, rel, err := lookupRelation[T](db, instance, name)
	if err == nil && rel.Multiple() {
		err = fmt.Errorf("%w: %s is multi valued", ErrMultiplicity, rel)
	}
	return newSingle[T](db, p, rel, instance, err)
}

func lookupRelation[T any](db *gorm.DB, instance interface{}, name string) (*Plugin, Relation, error) {
	p, err := pluginOf(db)
	if err != nil {
		return nil, nil, err
	}
	s, err := p.parse(instance)
	if err != nil {
		return nil, nil, err
	}
	e, ok := p.relation(s, name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s.%s", ErrUnknownRelation, s.Name, name)
	}
	if target := reflect.TypeOf((*T)(nil)).Elem(); e.relation.To().ModelType != target {
		return nil, nil, fmt.Errorf("%w: %s targets %s, not %s", ErrUnknownRelation, e.relation, e.relation.To().Name, target.Name())
	}
	return p, e.relation, nil
}
