// Package preload adds count preloading to an entity type. Declaring a
// relationship (optionally narrowed by named scopes of the child type)
// generates one operation that appends correlated COUNT(*) columns to a
// parent query, and one accessor per count that reads the preloaded value
// from a loaded row or, when absent, counts the related rows on demand.
package preload

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"preloadcounts/internal/model"
	"preloadcounts/internal/naming"
	"preloadcounts/internal/observability"
	"preloadcounts/internal/planner"
	"preloadcounts/internal/scope"
)

// CountSpec identifies one count: a relationship, optionally narrowed by a
// named scope of the child entity type.
type CountSpec struct {
	Relationship string
	Scope        string
}

// AccessorName is "{scope}_{relationship}_count", or "{relationship}_count"
// without a scope.
func (s CountSpec) AccessorName() string {
	return naming.AccessorName(s.Relationship, s.Scope)
}

// Alias is the column alias the preloaded value is selected under.
func (s CountSpec) Alias() string {
	return s.AccessorName()
}

// Options configures an entity's count preloading.
type Options struct {
	Logger  *slog.Logger
	Metrics *observability.PreloadMetrics
}

// Counts is the count preloading capability of one entity type. Declarations
// happen at configuration time; lookups are safe from any goroutine.
type Counts struct {
	entity   *model.EntityType
	resolver *model.Resolver
	namer    *naming.Namer
	logger   *slog.Logger
	metrics  *observability.PreloadMetrics

	mu             sync.RWMutex
	operations     map[string]*Operation
	byRelationship map[string]*Operation
	opOrder        []string
	accessors      map[string]*Accessor
	accOrder       []string
}

// Enable opts a registered entity type in to count preloading.
func Enable(entity *model.EntityType, resolver *model.Resolver, opts Options) (*Counts, error) {
	if entity == nil {
		return nil, fmt.Errorf("enable count preloading: %w", model.ErrUnknownEntityType)
	}
	if resolver == nil {
		return nil, fmt.Errorf("enable count preloading for %s: resolver must not be nil", entity.Name)
	}
	if registered, ok := resolver.Registry().Lookup(entity.Name); !ok || registered != entity {
		return nil, fmt.Errorf("enable count preloading for %s: %w", entity.Name, model.ErrUnknownEntityType)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Counts{
		entity:         entity,
		resolver:       resolver,
		namer:          resolver.Namer(),
		logger:         logger.With(slog.String("entity", entity.Name)),
		metrics:        opts.Metrics,
		operations:     make(map[string]*Operation),
		byRelationship: make(map[string]*Operation),
		accessors:      make(map[string]*Accessor),
	}, nil
}

// Entity returns the entity type the counts belong to.
func (c *Counts) Entity() *model.EntityType {
	return c.entity
}

// Declare registers the plain count of relationship plus one count per scope.
// Any failure leaves the existing declarations untouched.
func (c *Counts) Declare(relationship string, scopes ...string) error {
	d, err := c.resolver.Resolve(c.entity, relationship)
	if err != nil {
		return err
	}

	specs := []CountSpec{{Relationship: relationship}}
	seen := map[string]struct{}{"": {}}
	for _, s := range scopes {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		specs = append(specs, CountSpec{Relationship: relationship, Scope: s})
	}

	accessors := make([]*Accessor, 0, len(specs))
	for _, spec := range specs {
		preds, err := scope.Predicates(d, spec.Scope)
		if err != nil {
			return err
		}
		name := c.namer.AccessorName(spec.Relationship, spec.Scope)
		col, err := planner.CompileCount(d, preds, name)
		if err != nil {
			return err
		}
		accessors = append(accessors, &Accessor{
			name:       name,
			spec:       spec,
			descriptor: d,
			predicates: preds,
			column:     col,
			counts:     c,
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	op, ok := c.byRelationship[relationship]
	if !ok {
		op = &Operation{
			name:         c.namer.PreloadOperationName(relationship),
			relationship: relationship,
			counts:       c,
		}
		c.byRelationship[relationship] = op
		c.operations[op.name] = op
		c.opOrder = append(c.opOrder, op.name)
	}

	for _, acc := range accessors {
		if _, exists := c.accessors[acc.name]; exists {
			c.logger.Warn("duplicate count declaration, last declaration wins",
				slog.String("accessor", acc.name),
				slog.String("relationship", relationship),
			)
		} else {
			c.accOrder = append(c.accOrder, acc.name)
		}
		if previous, replaced := c.namer.RegisterAccessor(c.entity.Name, acc.name, relationship); replaced {
			if prevOp, ok := c.byRelationship[previous]; ok {
				prevOp.removeColumn(acc.name)
			}
		}
		c.accessors[acc.name] = acc
		op.putColumn(acc.column)
	}

	c.logger.Debug("declared preload counts",
		slog.String("relationship", relationship),
		slog.String("operation", op.name),
		slog.Int("counts", len(accessors)),
	)
	return nil
}

// Operation returns a generated operation by name, e.g. "preload_comment_counts".
func (c *Counts) Operation(name string) (*Operation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	op, ok := c.operations[name]
	return op, ok
}

// OperationFor returns the operation generated for relationship.
func (c *Counts) OperationFor(relationship string) (*Operation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	op, ok := c.byRelationship[relationship]
	return op, ok
}

// Accessor returns a generated accessor by name, e.g. "active_comments_count".
func (c *Counts) Accessor(name string) (*Accessor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	acc, ok := c.accessors[name]
	return acc, ok
}

// Operations returns the generated operations in declaration order.
func (c *Counts) Operations() []*Operation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Operation, 0, len(c.opOrder))
	for _, name := range c.opOrder {
		out = append(out, c.operations[name])
	}
	return out
}

// Accessors returns the generated accessors in declaration order.
func (c *Counts) Accessors() []*Accessor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Accessor, 0, len(c.accOrder))
	for _, name := range c.accOrder {
		out = append(out, c.accessors[name])
	}
	return out
}

// AccessorNames returns the generated accessor names, sorted.
func (c *Counts) AccessorNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.accessors))
	for name := range c.accessors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
