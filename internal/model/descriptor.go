package model

import (
	"fmt"

	"preloadcounts/internal/naming"
	"preloadcounts/internal/predicate"
)

// Descriptor is the normalized view of one declared relationship, with every
// conventional default resolved.
type Descriptor struct {
	Name   string
	Parent *EntityType
	Child  *EntityType
	// ForeignKey is the child column holding the parent's primary key.
	ForeignKey string
	// PolymorphicTypeColumn is empty unless the relationship is polymorphic.
	PolymorphicTypeColumn string
	// PolymorphicValue is the parent's discriminator, matched against
	// PolymorphicTypeColumn.
	PolymorphicValue string
	// Through marks a multi-hop relationship. Such descriptors cannot be compiled.
	Through bool
	// DefaultPredicate is the relationship's own filter over child columns.
	DefaultPredicate predicate.Predicate
}

// IsPolymorphic reports whether the child rows must also match a discriminator.
func (d Descriptor) IsPolymorphic() bool {
	return d.PolymorphicTypeColumn != ""
}

// ChildRef is the name child columns are qualified with in count and relation
// queries. It is the child table unless the child table is also the parent's,
// in which case it is an alias so the correlation still reaches the outer row.
func (d Descriptor) ChildRef() string {
	if d.Child == nil {
		return ""
	}
	if !d.IsSelfReferential() {
		return d.Child.Table
	}
	alias := d.Name + "_1"
	for alias == d.Parent.Table {
		alias += "_1"
	}
	return alias
}

// IsSelfReferential reports whether parent and child rows live in one table.
func (d Descriptor) IsSelfReferential() bool {
	return d.Parent != nil && d.Child != nil && d.Parent.Table == d.Child.Table
}

// Resolver turns relationship declarations into Descriptors. It only reads
// registry metadata and is safe for concurrent use.
type Resolver struct {
	registry *Registry
	namer    *naming.Namer
}

// NewResolver creates a resolver over the given registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry, namer: registry.Namer()}
}

// Registry returns the registry the resolver reads from.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// Namer returns the namer used for conventional names.
func (r *Resolver) Namer() *naming.Namer {
	return r.namer
}

// Resolve looks up relationship on parent and normalizes it.
func (r *Resolver) Resolve(parent *EntityType, relationship string) (Descriptor, error) {
	if parent == nil {
		return Descriptor{}, fmt.Errorf("resolve %s: %w", relationship, ErrUnknownEntityType)
	}
	rel, ok := parent.Relationship(relationship)
	if !ok {
		return Descriptor{}, fmt.Errorf("%s.%s: %w", parent.Name, relationship, ErrUnknownRelationship)
	}
	if rel.Through != "" {
		return Descriptor{}, fmt.Errorf("%s.%s through %s: %w", parent.Name, relationship, rel.Through, ErrUnsupportedRelationship)
	}

	childName := r.namer.TypeName(rel.Name)
	if rel.ClassName != "" {
		childName = r.namer.TypeName(rel.ClassName)
	}
	child, ok := r.registry.Lookup(childName)
	if !ok {
		return Descriptor{}, fmt.Errorf("%s.%s targets %s: %w", parent.Name, relationship, childName, ErrUnknownEntityType)
	}

	d := Descriptor{
		Name:             rel.Name,
		Parent:           parent,
		Child:            child,
		DefaultPredicate: rel.Where,
	}

	switch {
	case rel.ForeignKey != "":
		d.ForeignKey = rel.ForeignKey
	case rel.As != "":
		d.ForeignKey = rel.As + "_id"
	default:
		d.ForeignKey = r.namer.ForeignKeyFor(parent.Table)
	}
	if rel.As != "" {
		d.PolymorphicTypeColumn = r.namer.PolymorphicTypeColumn(rel.As)
		d.PolymorphicValue = parent.Discriminator
	}

	for _, col := range []string{d.ForeignKey, d.PolymorphicTypeColumn} {
		if col != "" && !child.HasColumn(col) {
			return Descriptor{}, fmt.Errorf("%s.%s: column %s is not declared on table %s", parent.Name, relationship, col, child.Table)
		}
	}
	if d.DefaultPredicate != nil {
		if err := child.checkColumns(d.DefaultPredicate.Columns()); err != nil {
			return Descriptor{}, fmt.Errorf("%s.%s default filter: %w", parent.Name, relationship, err)
		}
	}

	return d, nil
}
