package relativity

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/gorm-relativity/relativity/predicate"
)

// Restriction the join condition of one traversal of a relationship.
//
// LocalModel declares the relationship and RelatedModel is its target, whichever direction the
// relation is traversed in. L references resolve against the local side, lookups against the
// related side.
type Restriction struct {
	Forward      bool
	LocalModel   *schema.Schema
	RelatedModel *schema.Schema
	LocalAlias   string
	RelatedAlias string
	Predicate    predicate.Node
	Relation     string
}

// Context works out which alias each side of the predicate lives at.
//
// Joins get aliases in query order, so a forward traversal joins the related table after the
// local one and a reverse traversal the other way round. When the alias order disagrees with the
// direction the two aliases are swapped.
func (r *Restriction) Context(aliases *AliasMap) (*predicate.Context, error) {
	localIdx, relatedIdx := aliases.Index(r.LocalAlias), aliases.Index(r.RelatedAlias)
	if localIdx < 0 {
		return nil, fmt.Errorf("%w: %q (%s)", ErrAliasNotFound, r.LocalAlias, r.Relation)
	}
	if relatedIdx < 0 {
		return nil, fmt.Errorf("%w: %q (%s)", ErrAliasNotFound, r.RelatedAlias, r.Relation)
	}

	near, far := r.LocalAlias, r.RelatedAlias
	if (localIdx < relatedIdx) != r.Forward {
		near, far = far, near
	}

	direction := predicate.Forward
	if !r.Forward {
		direction = predicate.Reverse
	}
	return &predicate.Context{
		Direction: direction,
		Far:       predicate.Side{Schema: r.RelatedModel, Alias: far},
		Near:      &predicate.Side{Schema: r.LocalModel, Alias: near},
	}, nil
}

// Resolve the restriction as a join condition over aliases
func (r *Restriction) Resolve(aliases *AliasMap) (clause.Expression, error) {
	ctx, err := r.Context(aliases)
	if err != nil {
		return nil, err
	}
	expr, err := predicate.Resolve(r.Predicate, ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPredicate, r.Relation, err)
	}
	return expr, nil
}

// ToSQL the SQL and parameters of the resolved restriction, for the dialect of db
func (r *Restriction) ToSQL(db *gorm.DB, aliases *AliasMap) (string, []interface{}, error) {
	expr, err := r.Resolve(aliases)
	if err != nil {
		return "", nil, err
	}
	return newBuilder(db).build(expr)
}
