package naming

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// Pluralize converts a singular word to its plural form.
// Checks custom overrides first, then falls back to the inflection library.
// For snake_case input only the last segment is inflected.
func (n *Namer) Pluralize(word string) string {
	if override, ok := n.config.PluralOverrides[word]; ok {
		return override
	}
	head, tail := splitLastSegment(word)
	if override, ok := n.config.PluralOverrides[tail]; ok {
		return head + override
	}
	return head + inflection.Plural(tail)
}

// Singularize converts a plural word to its singular form.
// Checks custom overrides first, then falls back to the inflection library.
// For snake_case input only the last segment is inflected.
func (n *Namer) Singularize(word string) string {
	if override, ok := n.config.SingularOverrides[word]; ok {
		return override
	}
	head, tail := splitLastSegment(word)
	if override, ok := n.config.SingularOverrides[tail]; ok {
		return head + override
	}
	return head + inflection.Singular(tail)
}

// splitLastSegment splits "active_comments" into ("active_", "comments").
func splitLastSegment(word string) (string, string) {
	idx := strings.LastIndex(word, "_")
	if idx < 0 || idx == len(word)-1 {
		return "", word
	}
	return word[:idx+1], word[idx+1:]
}
