// Package predicate describes boolean conditions between the columns of two related tables.
//
// A predicate is written from the point of view of the related (far) table: lookup keys name its
// columns, and L references name columns of the declaring (near) table.
//
//	predicate.Q{"sku": predicate.L("product_code")}
//	predicate.And(predicate.Q{"colour": predicate.L("fcolour")}, predicate.Cond{"size__gte", predicate.L("fsize")})
package predicate

import (
	"sort"

	"gorm.io/gorm/clause"
)

// Node is a predicate tree node
type Node interface {
	resolve(ctx *Context) (clause.Expression, error)
}

// Q is the conjunction of its lookups, applied in sorted key order
type Q map[string]interface{}

func (q Q) conds() []Cond {
	keys := make([]string, 0, len(q))
	for key := range q {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	conds := make([]Cond, 0, len(keys))
	for _, key := range keys {
		conds = append(conds, Cond{Lookup: key, Value: q[key]})
	}
	return conds
}

func (q Q) resolve(ctx *Context) (clause.Expression, error) {
	exprs := make([]clause.Expression, 0, len(q))
	for _, cond := range q.conds() {
		expr, err := cond.resolve(ctx)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	return junction{sep: " AND ", exprs: exprs}, nil
}

// Cond a single lookup, "column[__operator]" compared with Value
type Cond struct {
	Lookup string
	Value  interface{}
}

func (c Cond) resolve(ctx *Context) (clause.Expression, error) {
	path, op, err := ParseLookup(c.Lookup)
	if err != nil {
		return nil, err
	}
	if len(path) != 1 {
		return nil, joinError(c.Lookup)
	}

	column, err := ctx.Far.Column(path[0])
	if err != nil {
		return nil, err
	}
	value, err := ctx.Operand(c.Value)
	if err != nil {
		return nil, err
	}
	return Build(op, column, value)
}

// Connector joins the children of a Junction
type Connector string

const (
	AND Connector = "AND"
	OR  Connector = "OR"
)

// Junction combines child nodes with a connector, optionally negated
type Junction struct {
	Connector Connector
	Nodes     []Node
	Negated   bool
}

// And all nodes must hold
func And(nodes ...Node) *Junction {
	return &Junction{Connector: AND, Nodes: nodes}
}

// Or any node must hold
func Or(nodes ...Node) *Junction {
	return &Junction{Connector: OR, Nodes: nodes}
}

// Not negates node
func Not(node Node) *Junction {
	return &Junction{Connector: AND, Nodes: []Node{node}, Negated: true}
}

func (j *Junction) resolve(ctx *Context) (clause.Expression, error) {
	exprs := make([]clause.Expression, 0, len(j.Nodes))
	for _, node := range j.Nodes {
		expr, err := node.resolve(ctx)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}

	var expr clause.Expression = junction{sep: " " + string(j.Connector) + " ", exprs: exprs}
	if j.Negated {
		expr = Negation{Expr: expr}
	}
	return expr, nil
}

// Conjunction flattens node into its leaf conditions when node is a plain AND of single-column
// lookups. ok is false for OR, NOT, nested junctions and lookups spanning several segments.
func Conjunction(node Node) (conds []Cond, ok bool) {
	switch n := node.(type) {
	case Cond:
		return []Cond{n}, simple(n)
	case Q:
		conds = n.conds()
	case *Junction:
		if n.Connector != AND || n.Negated {
			return nil, false
		}
		for _, child := range n.Nodes {
			switch c := child.(type) {
			case Cond:
				conds = append(conds, c)
			case Q:
				conds = append(conds, c.conds()...)
			default:
				return nil, false
			}
		}
	default:
		return nil, false
	}

	for _, cond := range conds {
		if !simple(cond) {
			return nil, false
		}
	}
	return conds, true
}

func simple(cond Cond) bool {
	path, _, err := ParseLookup(cond.Lookup)
	if err != nil || len(path) != 1 {
		return false
	}
	switch cond.Value.(type) {
	case F, ConcatExpr, clause.Expression:
		return false
	}
	return true
}

// Walk calls fn for every leaf condition of node, depth first
func Walk(node Node, fn func(Cond)) {
	switch n := node.(type) {
	case Cond:
		fn(n)
	case Q:
		for _, cond := range n.conds() {
			fn(cond)
		}
	case *Junction:
		for _, child := range n.Nodes {
			Walk(child, fn)
		}
	}
}

// References lists the far-side columns named by lookups and the near-side columns named by L
func References(node Node) (far []string, near []string) {
	seen := map[string]bool{}
	add := func(list *[]string, kind, name string) {
		if !seen[kind+name] {
			seen[kind+name] = true
			*list = append(*list, name)
		}
	}

	var operand func(v interface{})
	operand = func(v interface{}) {
		switch v := v.(type) {
		case L:
			add(&near, "L", string(v))
		case F:
			add(&far, "F", string(v))
		case ConcatExpr:
			for _, part := range v.Parts {
				operand(part)
			}
		}
	}

	Walk(node, func(cond Cond) {
		if path, _, err := ParseLookup(cond.Lookup); err == nil && len(path) > 0 {
			add(&far, "F", path[0])
		}
		operand(cond.Value)
	})
	return far, near
}
