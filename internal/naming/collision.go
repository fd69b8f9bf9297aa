package naming

import (
	"log/slog"
	"sync"
)

// CollisionResolver tracks which declaration owns each generated name per
// entity type. Later claims win; replacing a different owner is logged.
type CollisionResolver struct {
	mu     sync.Mutex
	owners map[string]map[string]string // type name → generated name → source
	logger *slog.Logger
}

// NewCollisionResolver creates a new collision resolver.
func NewCollisionResolver(logger *slog.Logger) *CollisionResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollisionResolver{
		owners: make(map[string]map[string]string),
		logger: logger,
	}
}

// Claim registers source as the owner of name within typeName and returns the
// previous owner when it differed.
func (c *CollisionResolver) Claim(typeName, name, source string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	names, ok := c.owners[typeName]
	if !ok {
		names = make(map[string]string)
		c.owners[typeName] = names
	}
	existing, exists := names[name]
	names[name] = source
	if !exists || existing == source {
		return "", false
	}

	c.logger.Warn("generated name collision, last declaration wins",
		slog.String("type", typeName),
		slog.String("name", name),
		slog.String("existing_source", existing),
		slog.String("new_source", source),
	)
	return existing, true
}

// Owner returns the current owner of a generated name.
func (c *CollisionResolver) Owner(typeName, name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	source, ok := c.owners[typeName][name]
	return source, ok
}
