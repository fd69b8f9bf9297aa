package model

import (
	"fmt"
	"log/slog"
	"sync"

	"preloadcounts/internal/naming"
)

// Registry holds registered entity types. Registration fills in conventional
// defaults and freezes the type; lookups are safe for concurrent use.
type Registry struct {
	namer  *naming.Namer
	logger *slog.Logger

	mu      sync.RWMutex
	byName  map[string]*EntityType
	byTable map[string]*EntityType
	order   []string
}

// NewRegistry creates an empty registry using namer for conventional names.
func NewRegistry(namer *naming.Namer, logger *slog.Logger) *Registry {
	if namer == nil {
		namer = naming.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		namer:   namer,
		logger:  logger,
		byName:  make(map[string]*EntityType),
		byTable: make(map[string]*EntityType),
	}
}

// Namer returns the namer used by the registry.
func (r *Registry) Namer() *naming.Namer {
	return r.namer
}

// Register applies defaults to e, validates its scopes and freezes it.
func (r *Registry) Register(e *EntityType) error {
	if e == nil || e.Name == "" {
		return fmt.Errorf("entity type name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[e.Name]; exists {
		return fmt.Errorf("entity type %s is already registered", e.Name)
	}
	if e.Table == "" {
		e.Table = r.namer.TableName(e.Name)
	}
	if other, exists := r.byTable[e.Table]; exists {
		return fmt.Errorf("table %s is already mapped to entity type %s", e.Table, other.Name)
	}
	if e.PrimaryKey == "" {
		e.PrimaryKey = DefaultPrimaryKey
	}
	if e.Discriminator == "" {
		e.Discriminator = e.Name
	}
	if !e.HasColumn(e.PrimaryKey) {
		return fmt.Errorf("%s: primary key %s is not a declared column", e.Name, e.PrimaryKey)
	}
	for _, name := range e.ScopeNames() {
		if err := e.checkColumns(e.scopes[name].Columns()); err != nil {
			return fmt.Errorf("%s scope %s: %w", e.Name, name, err)
		}
	}

	e.frozen = true
	r.byName[e.Name] = e
	r.byTable[e.Table] = e
	r.order = append(r.order, e.Name)

	r.logger.Debug("registered entity type",
		slog.String("type", e.Name),
		slog.String("table", e.Table),
		slog.Int("relationships", len(e.relOrder)),
		slog.Int("scopes", len(e.scopes)),
	)
	return nil
}

// Lookup returns a registered entity type by name.
func (r *Registry) Lookup(name string) (*EntityType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	return e, ok
}

// LookupTable returns a registered entity type by table name.
func (r *Registry) LookupTable(table string) (*EntityType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byTable[table]
	return e, ok
}

// Types returns registered entity types in registration order.
func (r *Registry) Types() []*EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*EntityType, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}
