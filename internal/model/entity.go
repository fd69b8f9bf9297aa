// Package model holds the entity type metadata count preloading works from:
// entity types with their tables, declared one-to-many relationships and named
// scopes, a registry to look types up by name, and the resolver that turns a
// relationship declaration into a normalized Descriptor.
package model

import (
	"fmt"
	"sort"

	"preloadcounts/internal/predicate"
)

// DefaultPrimaryKey is the primary key column used when none is declared.
const DefaultPrimaryKey = "id"

// EntityType describes one relational entity. Fields left empty are filled in
// with naming conventions when the type is registered.
type EntityType struct {
	// Name is the type identifier, e.g. "Post".
	Name string
	// Table defaults to the snake_case plural of Name.
	Table string
	// PrimaryKey defaults to "id".
	PrimaryKey string
	// Discriminator is the value stored in polymorphic type columns that point
	// at this type. Defaults to Name.
	Discriminator string
	// Columns optionally lists the table's columns. When set, scope and
	// relationship predicates are checked against it.
	Columns []string

	relationships map[string]Relationship
	relOrder      []string
	scopes        map[string]predicate.Predicate
	frozen        bool
}

// Relationship is a declared one-to-many association.
type Relationship struct {
	// Name is the caller-facing identifier, e.g. "comments".
	Name string
	// ClassName overrides the child entity type, e.g. "Comment" for "active_comments".
	ClassName string
	// ForeignKey overrides the conventional "{parent_singular}_id" column.
	ForeignKey string
	// As names the polymorphic role; the child then carries "{As}_id"-style
	// keys plus a "{As}_type" discriminator column.
	As string
	// Through names an intermediate relationship. Count preloading rejects these.
	Through string
	// Where is a default filter applied to every count of this relationship.
	Where predicate.Predicate
}

// NewEntityType creates an entity type with no declarations.
func NewEntityType(name string) *EntityType {
	return &EntityType{Name: name}
}

// HasMany declares a one-to-many relationship. Redeclaring a name replaces the
// earlier declaration.
func (e *EntityType) HasMany(rel Relationship) error {
	if e.frozen {
		return fmt.Errorf("%s.%s: %w", e.Name, rel.Name, ErrFrozen)
	}
	if rel.Name == "" {
		return fmt.Errorf("%s: relationship name must not be empty", e.Name)
	}
	if e.relationships == nil {
		e.relationships = make(map[string]Relationship)
	}
	if _, exists := e.relationships[rel.Name]; !exists {
		e.relOrder = append(e.relOrder, rel.Name)
	}
	e.relationships[rel.Name] = rel
	return nil
}

// AddScope declares a named filter over this entity's own columns.
func (e *EntityType) AddScope(name string, pred predicate.Predicate) error {
	if e.frozen {
		return fmt.Errorf("%s scope %s: %w", e.Name, name, ErrFrozen)
	}
	if name == "" {
		return fmt.Errorf("%s: scope name must not be empty", e.Name)
	}
	if pred == nil {
		return fmt.Errorf("%s scope %s: predicate must not be nil", e.Name, name)
	}
	if err := e.checkColumns(pred.Columns()); err != nil {
		return fmt.Errorf("%s scope %s: %w", e.Name, name, err)
	}
	if e.scopes == nil {
		e.scopes = make(map[string]predicate.Predicate)
	}
	e.scopes[name] = pred
	return nil
}

// Relationship returns a declared relationship by name.
func (e *EntityType) Relationship(name string) (Relationship, bool) {
	rel, ok := e.relationships[name]
	return rel, ok
}

// Relationships returns declared relationships in declaration order.
func (e *EntityType) Relationships() []Relationship {
	out := make([]Relationship, 0, len(e.relOrder))
	for _, name := range e.relOrder {
		out = append(out, e.relationships[name])
	}
	return out
}

// Scope returns a declared scope predicate by name.
func (e *EntityType) Scope(name string) (predicate.Predicate, bool) {
	pred, ok := e.scopes[name]
	return pred, ok
}

// ScopeNames returns the declared scope names, sorted.
func (e *EntityType) ScopeNames() []string {
	names := make([]string, 0, len(e.scopes))
	for name := range e.scopes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasColumn reports whether column is declared. Without a declared column
// list every column is accepted.
func (e *EntityType) HasColumn(column string) bool {
	if len(e.Columns) == 0 {
		return true
	}
	for _, col := range e.Columns {
		if col == column {
			return true
		}
	}
	return false
}

func (e *EntityType) checkColumns(columns []string) error {
	for _, col := range columns {
		if !e.HasColumn(col) {
			return fmt.Errorf("column %s is not declared on table %s", col, e.Table)
		}
	}
	return nil
}
