// Package scope resolves named filters into WHERE-body fragments bound to a
// concrete table.
package scope

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"preloadcounts/internal/model"
)

// ResolvePredicate binds the named scope declared on entity to the entity's table.
func ResolvePredicate(entity *model.EntityType, name string) (sq.Sqlizer, error) {
	if entity == nil {
		return nil, fmt.Errorf("scope %s: %w", name, model.ErrUnknownEntityType)
	}
	return resolveOn(entity, name, entity.Table)
}

func resolveOn(entity *model.EntityType, name, table string) (sq.Sqlizer, error) {
	if entity == nil {
		return nil, fmt.Errorf("scope %s: %w", name, model.ErrUnknownEntityType)
	}
	pred, ok := entity.Scope(name)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", entity.Name, name, model.ErrScopeNotFound)
	}
	bound, err := pred.Bind(table)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", entity.Name, name, err)
	}
	return bound, nil
}

// ResolveDefaultPredicate binds the relationship's own filter to
// d.ChildRef(). The boolean is false when the relationship has no default
// filter.
func ResolveDefaultPredicate(d model.Descriptor) (sq.Sqlizer, bool, error) {
	if d.DefaultPredicate == nil {
		return nil, false, nil
	}
	if d.Child == nil {
		return nil, false, fmt.Errorf("%s: %w", d.Name, model.ErrUnknownEntityType)
	}
	bound, err := d.DefaultPredicate.Bind(d.ChildRef())
	if err != nil {
		return nil, false, fmt.Errorf("%s default filter: %w", d.Name, err)
	}
	return bound, true, nil
}

// Predicates collects the fragments restricting a count of d: the default
// filter first, then each named scope of the child in order. All of them are
// bound to d.ChildRef().
func Predicates(d model.Descriptor, scopes ...string) ([]sq.Sqlizer, error) {
	var out []sq.Sqlizer
	def, ok, err := ResolveDefaultPredicate(d)
	if err != nil {
		return nil, err
	}
	if ok {
		out = append(out, def)
	}
	for _, name := range scopes {
		if name == "" {
			continue
		}
		frag, err := resolveOn(d.Child, name, d.ChildRef())
		if err != nil {
			return nil, err
		}
		out = append(out, frag)
	}
	return out, nil
}

// Conjunction ANDs fragments in order. An empty list yields "1 = 1".
func Conjunction(fragments ...sq.Sqlizer) sq.Sqlizer {
	parts := make([]sq.Sqlizer, 0, len(fragments))
	for _, f := range fragments {
		if f != nil {
			parts = append(parts, f)
		}
	}
	switch len(parts) {
	case 0:
		return sq.Expr("1 = 1")
	case 1:
		return parts[0]
	default:
		return sq.And(parts)
	}
}
