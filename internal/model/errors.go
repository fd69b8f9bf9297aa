package model

import "errors"

var (
	// ErrUnknownRelationship is returned when a relationship name is not declared on an entity type.
	ErrUnknownRelationship = errors.New("unknown relationship")
	// ErrUnsupportedRelationship is returned for through (multi-hop) relationships,
	// whose counts cannot be expressed as one correlated subquery.
	ErrUnsupportedRelationship = errors.New("unsupported relationship")
	// ErrScopeNotFound is returned when a named scope is not declared on the target entity type.
	ErrScopeNotFound = errors.New("scope not found")
	// ErrUnknownEntityType is returned when a relationship targets an entity type that is not registered.
	ErrUnknownEntityType = errors.New("unknown entity type")
	// ErrMissingPrimaryKey is returned when a loaded row has no value for its primary key.
	ErrMissingPrimaryKey = errors.New("missing primary key value")
	// ErrFrozen is returned when declarations are added to an entity type after registration.
	ErrFrozen = errors.New("entity type is registered and immutable")
)
