package naming

import (
	"log/slog"
	"strings"
	"unicode"
)

// Namer derives every conventional name used by count preloading: table names
// from entity type names, default foreign keys, child type names from
// relationship names, and the generated operation and accessor names.
type Namer struct {
	config   Config
	logger   *slog.Logger
	resolver *CollisionResolver
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		config:   DefaultConfig().Merge(cfg),
		logger:   logger,
		resolver: NewCollisionResolver(logger),
	}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// TableName converts an entity type name to its conventional table name.
// Example: "BlogPost" -> "blog_posts"
func (n *Namer) TableName(typeName string) string {
	return n.Pluralize(ToSnakeCase(typeName))
}

// TypeName converts a relationship or class name to a singular entity type name.
// Example: "active_comments" -> "ActiveComment", "Comments" -> "Comment"
func (n *Namer) TypeName(name string) string {
	return toPascalCase(n.Singularize(ToSnakeCase(name)))
}

// ForeignKeyFor returns the conventional foreign key column pointing at the
// given parent table.
// Example: "posts" -> "post_id"
func (n *Namer) ForeignKeyFor(parentTable string) string {
	return n.Singularize(parentTable) + "_id"
}

// PolymorphicTypeColumn returns the discriminator column for a polymorphic role.
// Example: "votable" -> "votable_type"
func (n *Namer) PolymorphicTypeColumn(role string) string {
	return role + "_type"
}

// PreloadOperationName returns the name of the query-producing operation that
// preloads every count declared for a relationship.
// Example: "comments" -> "preload_comment_counts"
func (n *Namer) PreloadOperationName(relationship string) string {
	return "preload_" + n.Singularize(relationship) + "_counts"
}

// AccessorName returns the count accessor name for a relationship and an
// optional scope. The same string is used as the SQL column alias.
// Example: ("incidents", "acknowledged") -> "acknowledged_incidents_count"
func (n *Namer) AccessorName(relationship, scope string) string {
	return AccessorName(relationship, scope)
}

// AccessorName is the package-level form of Namer.AccessorName; accessor
// names do not depend on inflection overrides.
func AccessorName(relationship, scope string) string {
	if scope == "" {
		return relationship + "_count"
	}
	return scope + "_" + relationship + "_count"
}

// RegisterAccessor records that source now owns the accessor name on the given
// entity type. A different earlier owner is replaced and reported.
func (n *Namer) RegisterAccessor(typeName, accessor, source string) (previous string, replaced bool) {
	return n.resolver.Claim(typeName, accessor, source)
}

// ToSnakeCase converts PascalCase or camelCase to snake_case. Input that is
// already snake_case is returned unchanged.
// Example: "BlogPost" -> "blog_post"
func ToSnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && runes[i-1] != '_' {
				prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if prevLower || (unicode.IsUpper(runes[i-1]) && nextLower) {
					b.WriteRune('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// toPascalCase converts snake_case to PascalCase
func toPascalCase(s string) string {
	parts := strings.Split(s, "_")
	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, "")
}
