// Package tree declares the ancestor and descendant relationships of models stored as trees.
//
// Descendants exclude the node itself, a subtree and a rootpath include it. The convention holds
// for every representation:
//
//	var PageDescendants = tree.Descendants[Page](tree.MPDescendants("path"))
//	var PageSubtree = tree.Subtree[Page](tree.MPSubtree("path"))
package tree

import (
	"github.com/gorm-relativity/relativity"
	"github.com/gorm-relativity/relativity/predicate"
)

// NestedSet columns of a nested set tree
type NestedSet struct {
	TreeID string
	Left   string
	Right  string
}

// DefaultNestedSet tree_id, lft and rgt
var DefaultNestedSet = NestedSet{TreeID: "tree_id", Left: "lft", Right: "rgt"}

// MPDescendants materialized path descendants: paths extending the path of the node
func MPDescendants(path string) predicate.Node {
	return predicate.Q{
		path + "__startswith": predicate.L(path),
		path + "__ne":         predicate.L(path),
	}
}

// MPSubtree materialized path subtree, the node and its descendants
func MPSubtree(path string) predicate.Node {
	return predicate.Q{path + "__startswith": predicate.L(path)}
}

// NSDescendants nested set descendants: nodes of the same tree whose left bound lies strictly
// inside the bounds of the node
func NSDescendants(ns NestedSet) predicate.Node {
	return predicate.Q{
		ns.TreeID:        predicate.L(ns.TreeID),
		ns.Left + "__gt": predicate.L(ns.Left),
		ns.Left + "__lt": predicate.L(ns.Right),
	}
}

// NSSubtree nested set subtree, the node and its descendants
func NSSubtree(ns NestedSet) predicate.Node {
	return predicate.Q{
		ns.TreeID:         predicate.L(ns.TreeID),
		ns.Left + "__gte": predicate.L(ns.Left),
		ns.Left + "__lt":  predicate.L(ns.Right),
	}
}

// AdjacencyChildren adjacency list children: nodes whose parent column holds the id of the node
func AdjacencyChildren(parent, id string) predicate.Node {
	return predicate.Q{parent: predicate.L(id)}
}

// Descendants declares "Descendants" on M, reversed as "Ascendants"
func Descendants[M any](pred predicate.Node, opts ...relativity.Option) *relativity.Relationship[M, M] {
	opts = append([]relativity.Option{relativity.RelatedName("Ascendants")}, opts...)
	return relativity.NewSelf[M]("Descendants", pred, opts...)
}

// Subtree declares "Subtree" on M, reversed as "Rootpath"
func Subtree[M any](pred predicate.Node, opts ...relativity.Option) *relativity.Relationship[M, M] {
	opts = append([]relativity.Option{relativity.RelatedName("Rootpath")}, opts...)
	return relativity.NewSelf[M]("Subtree", pred, opts...)
}

// Children declares "Children" on M from an adjacency list, reversed as the single valued "Parent"
func Children[M any](parent, id string, opts ...relativity.Option) *relativity.Relationship[M, M] {
	opts = append([]relativity.Option{relativity.RelatedName("Parent"), relativity.ReverseMultiple(false)}, opts...)
	return relativity.NewSelf[M]("Children", AdjacencyChildren(parent, id), opts...)
}
