// Package naming provides the naming rules used to derive table names, foreign
// keys, entity type names, preload operation names and count accessor names
// from declared relationships, including pluralization overrides.
package naming

// Config holds naming customization options
type Config struct {
	// PluralOverrides maps singular -> custom plural
	// Example: {"person": "people", "status": "statuses"}
	PluralOverrides map[string]string `mapstructure:"plural_overrides"`

	// SingularOverrides maps plural -> custom singular
	// Example: {"people": "person", "data": "datum"}
	SingularOverrides map[string]string `mapstructure:"singular_overrides"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PluralOverrides:   make(map[string]string),
		SingularOverrides: make(map[string]string),
	}
}

// Merge returns a copy of c with the entries of other layered on top.
func (c Config) Merge(other Config) Config {
	out := DefaultConfig()
	for k, v := range c.PluralOverrides {
		out.PluralOverrides[k] = v
	}
	for k, v := range c.SingularOverrides {
		out.SingularOverrides[k] = v
	}
	for k, v := range other.PluralOverrides {
		out.PluralOverrides[k] = v
	}
	for k, v := range other.SingularOverrides {
		out.SingularOverrides[k] = v
	}
	return out
}
