// Package compat keeps the names of the predicate language available from their old location.
//
// Deprecated: import github.com/gorm-relativity/relativity/predicate instead. The package is
// removed in Expiry.
package compat

import "github.com/gorm-relativity/relativity/predicate"

// Expiry the release that removes the package
const Expiry = "v2.0.0"

type (
	// Deprecated: use predicate.Q
	Q = predicate.Q
	// Deprecated: use predicate.F
	F = predicate.F
	// Deprecated: use predicate.L
	L = predicate.L
	// Deprecated: use predicate.Cond
	Cond = predicate.Cond
)

var (
	// Deprecated: use predicate.And
	And = predicate.And
	// Deprecated: use predicate.Or
	Or = predicate.Or
	// Deprecated: use predicate.Not
	Not = predicate.Not
)
