// Package catalog turns declared models into registered entity types and
// enables count preloading for the models that ask for it.
package catalog

import (
	"fmt"
	"log/slog"
	"sort"

	"preloadcounts/internal/config"
	"preloadcounts/internal/model"
	"preloadcounts/internal/naming"
	"preloadcounts/internal/observability"
	"preloadcounts/internal/predicate"
	"preloadcounts/internal/preload"
)

// BuildConfig defines inputs for catalog assembly.
type BuildConfig struct {
	Models []config.ModelConfig
	Naming naming.Config
	// Columns maps table names to their columns. Models that declare no
	// columns take them from here.
	Columns map[string][]string
	Logger  *slog.Logger
	Metrics *observability.PreloadMetrics
}

// Catalog holds the registered entity types and their preload capabilities.
type Catalog struct {
	registry *model.Registry
	counts   map[string]*preload.Counts
}

// Build registers every model, then declares the requested counts. Models are
// registered before any count is declared so relationships may point at models
// declared later in the list.
func Build(cfg BuildConfig) (*Catalog, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	namer := naming.New(cfg.Naming, logger)
	registry := model.NewRegistry(namer, logger)

	for _, m := range cfg.Models {
		entity, err := entityFromConfig(m, namer, cfg.Columns)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(entity); err != nil {
			return nil, fmt.Errorf("failed to register model %s: %w", m.Name, err)
		}
	}

	resolver := model.NewResolver(registry)
	cat := &Catalog{
		registry: registry,
		counts:   make(map[string]*preload.Counts),
	}

	declared := 0
	for _, m := range cfg.Models {
		if len(m.Preload) == 0 {
			continue
		}
		entity, _ := registry.Lookup(m.Name)
		counts, err := preload.Enable(entity, resolver, preload.Options{
			Logger:  logger,
			Metrics: cfg.Metrics,
		})
		if err != nil {
			return nil, err
		}
		for _, p := range m.Preload {
			if err := counts.Declare(p.Relationship, p.Scopes...); err != nil {
				return nil, fmt.Errorf("failed to declare counts for %s.%s: %w", m.Name, p.Relationship, err)
			}
		}
		cat.counts[m.Name] = counts
		declared += len(counts.Accessors())
	}

	logger.Info("catalog built",
		slog.Int("entity_types", len(registry.Types())),
		slog.Int("preloading_types", len(cat.counts)),
		slog.Int("accessors", declared),
	)
	return cat, nil
}

func entityFromConfig(m config.ModelConfig, namer *naming.Namer, columns map[string][]string) (*model.EntityType, error) {
	entity := model.NewEntityType(m.Name)
	entity.Table = m.Table
	entity.PrimaryKey = m.PrimaryKey
	entity.Discriminator = m.Discriminator
	entity.Columns = m.Columns
	if len(entity.Columns) == 0 && columns != nil {
		entity.Columns = columns[tableFor(m, namer)]
	}

	scopeNames := make([]string, 0, len(m.Scopes))
	for name := range m.Scopes {
		scopeNames = append(scopeNames, name)
	}
	sort.Strings(scopeNames)
	for _, name := range scopeNames {
		pred, err := predicate.ParseFilter(m.Scopes[name])
		if err != nil {
			return nil, fmt.Errorf("model %s scope %s: %w", m.Name, name, err)
		}
		if err := entity.AddScope(name, pred); err != nil {
			return nil, err
		}
	}

	for _, rel := range m.Relationships {
		where, err := predicate.ParseFilter(rel.Where)
		if err != nil {
			return nil, fmt.Errorf("model %s relationship %s: %w", m.Name, rel.Name, err)
		}
		if err := entity.HasMany(model.Relationship{
			Name:       rel.Name,
			ClassName:  rel.ClassName,
			ForeignKey: rel.ForeignKey,
			As:         rel.As,
			Through:    rel.Through,
			Where:      where,
		}); err != nil {
			return nil, err
		}
	}

	return entity, nil
}

func tableFor(m config.ModelConfig, namer *naming.Namer) string {
	if m.Table != "" {
		return m.Table
	}
	return namer.TableName(m.Name)
}

// TablesWithoutColumns lists the tables of models that declare no columns, in
// declaration order.
func TablesWithoutColumns(models []config.ModelConfig, cfg naming.Config) []string {
	namer := naming.New(cfg, nil)
	var tables []string
	for _, m := range models {
		if len(m.Columns) == 0 {
			tables = append(tables, tableFor(m, namer))
		}
	}
	return tables
}

// Registry returns the entity type registry.
func (c *Catalog) Registry() *model.Registry {
	return c.registry
}

// Counts returns the preload capability of entity, if it declared any counts.
func (c *Catalog) Counts(entity string) (*preload.Counts, bool) {
	counts, ok := c.counts[entity]
	return counts, ok
}

// Entities lists the entity types with declared counts, sorted by name.
func (c *Catalog) Entities() []string {
	names := make([]string, 0, len(c.counts))
	for name := range c.counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
