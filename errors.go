package relativity

import (
	"errors"
)

var (
	// ErrAliasNotFound a restriction refers to an alias its query does not have
	ErrAliasNotFound = errors.New("alias not found")
	// ErrInvalidPredicate relationship predicate can't be resolved against its models
	ErrInvalidPredicate = errors.New("invalid relationship predicate")
	// ErrUnsupportedOperation predicate relationships are read only
	ErrUnsupportedOperation = errors.New("operation not supported by predicate relationships")
	// ErrMultipleRecords a single valued relation matched several rows
	ErrMultipleRecords = errors.New("multiple records found")
	// ErrUnknownRelation lookup names neither a field nor a relation
	ErrUnknownRelation = errors.New("unknown relation")
	// ErrMultiplicity accessor doesn't match the multiplicity of the relation
	ErrMultiplicity = errors.New("relation multiplicity mismatch")
	// ErrPrefetchUnsupported model doesn't embed relativity.Prefetch
	ErrPrefetchUnsupported = errors.New("model does not embed relativity.Prefetch")
	// ErrPluginNotRegistered relativity plugin missing from the gorm.DB
	ErrPluginNotRegistered = errors.New("relativity plugin not registered")
	// ErrNotRegistered relationship declaration not registered
	ErrNotRegistered = errors.New("relationship not registered")
)
