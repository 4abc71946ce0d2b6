package relativity

import (
	"context"
	"fmt"
	"reflect"

	"gorm.io/gorm/schema"

	"github.com/gorm-relativity/relativity/predicate"
)

// Relation one direction of a relationship: Field goes from the declaring model to its target,
// Rel comes back
type Relation interface {
	// Name accessor name on the From model
	Name() string
	// QueryName name used in lookup paths
	QueryName() string
	From() *schema.Schema
	To() *schema.Schema
	// Multiple whether an instance of From relates to many instances of To
	Multiple() bool
	// NotNull whether a single valued relation fails with gorm.ErrRecordNotFound when no row matches
	NotNull() bool
	// Remote the opposite direction
	Remote() Relation
	// ExtraRestriction the join condition for To joined at joinedAlias from From at parentAlias
	ExtraRestriction(joinedAlias, parentAlias string) *Restriction
	// ForwardRelatedFilter filters the From model down to the rows related to instance, an instance of To
	ForwardRelatedFilter(ctx context.Context, instance interface{}) (Filter, error)
	// PathInfo the joins traversing the relation
	PathInfo() []PathInfo
	// LocalRelatedFields foreign key columns, always empty
	LocalRelatedFields() []*schema.Field
	ForeignRelatedFields() []*schema.Field
	String() string

	forwardRelatedFilter(ctx context.Context, instance interface{}) (Filter, bool, error)
}

// PathInfo one join of a lookup path
type PathInfo struct {
	From         *schema.Schema
	To           *schema.Schema
	TargetFields []*schema.Field
	Relation     Relation
	M2M          bool
	Direct       bool
}

// Field the forward side of a relationship
type Field struct {
	plugin           *Plugin
	name             string
	queryName        string
	relatedName      string
	relatedQueryName string
	schema           *schema.Schema
	relatedSchema    *schema.Schema
	predicate        predicate.Node
	self             bool
	notNull          bool
	reverseNotNull   bool
	multiple         bool
	reverseMultiple  bool
	rel              *Rel
}

func (f *Field) Name() string                          { return f.name }
func (f *Field) QueryName() string                     { return f.queryName }
func (f *Field) From() *schema.Schema                  { return f.schema }
func (f *Field) To() *schema.Schema                    { return f.relatedSchema }
func (f *Field) Multiple() bool                        { return f.multiple }
func (f *Field) NotNull() bool                         { return f.notNull && !f.multiple }
func (f *Field) Remote() Relation                      { return f.rel }
func (f *Field) Predicate() predicate.Node             { return f.predicate }
func (f *Field) Self() bool                            { return f.self }
func (f *Field) LocalRelatedFields() []*schema.Field   { return nil }
func (f *Field) ForeignRelatedFields() []*schema.Field { return nil }
func (f *Field) String() string                        { return f.schema.Name + "." + f.name }

func (f *Field) ExtraRestriction(joinedAlias, parentAlias string) *Restriction {
	return &Restriction{
		Forward:      true,
		LocalModel:   f.schema,
		RelatedModel: f.relatedSchema,
		LocalAlias:   parentAlias,
		RelatedAlias: joinedAlias,
		Predicate:    f.predicate,
		Relation:     f.String(),
	}
}

func (f *Field) PathInfo() []PathInfo {
	return []PathInfo{{
		From:         f.schema,
		To:           f.relatedSchema,
		TargetFields: f.relatedSchema.PrimaryFields,
		Relation:     f,
		M2M:          true,
		Direct:       true,
	}}
}

func (f *Field) ForwardRelatedFilter(ctx context.Context, instance interface{}) (Filter, error) {
	filter, _, err := f.forwardRelatedFilter(ctx, instance)
	return filter, err
}

// instance belongs to the related model, so the predicate's lookups are its own columns. A plain
// conjunction of comparisons against L references is turned around: each L column is compared
// with the instance's value of the looked up column.
func (f *Field) forwardRelatedFilter(ctx context.Context, instance interface{}) (Filter, bool, error) {
	if !f.plugin.DisableFastPath {
		if conds, ok := predicate.Conjunction(f.predicate); ok {
			filter := Filter{}
			for _, cond := range conds {
				local, isLocal := cond.Value.(predicate.L)
				if !isLocal {
					filter = nil
					break
				}
				path, op, _ := predicate.ParseLookup(cond.Lookup)
				inverted, ok := predicate.Invert(op)
				if !ok {
					filter = nil
					break
				}

				key := string(local) + predicate.Separator + inverted
				if _, exists := filter[key]; exists {
					filter = nil
					break
				}
				value, err := fieldValue(ctx, f.relatedSchema, instance, path[0])
				if err != nil {
					return nil, false, err
				}
				if isNil(value) {
					filter = nil
					break
				}
				filter[key] = value
			}
			if filter != nil {
				return filter, true, nil
			}
		}
	}
	return Filter{f.queryName: instance}, false, nil
}

// Rel the reverse side of a relationship, installed on the related model
type Rel struct {
	field *Field
}

func (r *Rel) Name() string                          { return r.field.relatedName }
func (r *Rel) QueryName() string                     { return r.field.relatedQueryName }
func (r *Rel) From() *schema.Schema                  { return r.field.relatedSchema }
func (r *Rel) To() *schema.Schema                    { return r.field.schema }
func (r *Rel) Multiple() bool                        { return r.field.reverseMultiple }
func (r *Rel) NotNull() bool                         { return r.field.reverseNotNull && !r.field.reverseMultiple }
func (r *Rel) Remote() Relation                      { return r.field }
func (r *Rel) Field() *Field                         { return r.field }
func (r *Rel) LocalRelatedFields() []*schema.Field   { return nil }
func (r *Rel) ForeignRelatedFields() []*schema.Field { return nil }
func (r *Rel) String() string                        { return r.field.relatedSchema.Name + "." + r.Name() }

// ExtraRestriction keeps the declaring model as the local side, only the direction flips
func (r *Rel) ExtraRestriction(joinedAlias, parentAlias string) *Restriction {
	return &Restriction{
		Forward:      false,
		LocalModel:   r.field.schema,
		RelatedModel: r.field.relatedSchema,
		LocalAlias:   parentAlias,
		RelatedAlias: joinedAlias,
		Predicate:    r.field.predicate,
		Relation:     r.String(),
	}
}

func (r *Rel) PathInfo() []PathInfo {
	return []PathInfo{{
		From:         r.field.relatedSchema,
		To:           r.field.schema,
		TargetFields: r.field.schema.PrimaryFields,
		Relation:     r,
		M2M:          true,
		Direct:       false,
	}}
}

func (r *Rel) ForwardRelatedFilter(ctx context.Context, instance interface{}) (Filter, error) {
	filter, _, err := r.forwardRelatedFilter(ctx, instance)
	return filter, err
}

// instance belongs to the declaring model: its values replace the L references and the lookups
// stay as written
func (r *Rel) forwardRelatedFilter(ctx context.Context, instance interface{}) (Filter, bool, error) {
	if !r.field.plugin.DisableFastPath {
		if conds, ok := predicate.Conjunction(r.field.predicate); ok {
			filter := Filter{}
			for _, cond := range conds {
				value := cond.Value
				if local, ok := value.(predicate.L); ok {
					v, err := fieldValue(ctx, r.field.schema, instance, string(local))
					if err != nil {
						return nil, false, err
					}
					if isNil(v) {
						filter = nil
						break
					}
					value = v
				} else if lit, ok := value.(predicate.Literal); ok {
					value = lit.Value
				}
				filter[cond.Lookup] = value
			}
			if filter != nil {
				return filter, true, nil
			}
		}
	}
	return Filter{r.QueryName(): instance}, false, nil
}

// fieldValue reads the value of field name from instance, a model struct or a pointer to one
func fieldValue(ctx context.Context, s *schema.Schema, instance interface{}, name string) (interface{}, error) {
	field := s.LookUpField(name)
	if field == nil {
		return nil, fmt.Errorf("%w: %q on %s", predicate.ErrUnknownColumn, name, s.Name)
	}

	rv := reflect.Indirect(reflect.ValueOf(instance))
	if !rv.IsValid() || rv.Type() != s.ModelType {
		return nil, fmt.Errorf("%w: expected %s, got %T", ErrInvalidPredicate, s.Name, instance)
	}
	value, _ := field.ValueOf(ctx, rv)
	return value, nil
}

// isNil a NULL column value, compared with = it matches nothing
func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
