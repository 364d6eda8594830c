package variables

import (
	"regexp"
	"strings"
)

// placeholderRegex matches {{key}} and {{key|default}}.
var placeholderRegex = regexp.MustCompile(`\{\{([^}|]+)(?:\|([^}]*))?\}\}`)

// Expand replaces placeholders in template with values from store:
//   - {{key}} becomes the stored value, or is kept as-is when unset
//   - {{key|default}} falls back to default when unset
//   - {{key|}} falls back to the empty string
func Expand(template string, store Store) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	return placeholderRegex.ReplaceAllStringFunc(template, func(match string) string {
		parts := placeholderRegex.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		key := strings.TrimSpace(parts[1])
		if store != nil {
			if val, ok := store.Get(key); ok {
				return val
			}
		}
		// A '|' marks an explicit default, possibly empty.
		if strings.Contains(match, "|") {
			return parts[2]
		}
		return match
	})
}

// ExpandMap applies Expand to every value of values.
func ExpandMap(values map[string]string, store Store) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = Expand(value, store)
	}
	return out
}

// Names lists the distinct placeholder keys referenced by template, in order
// of first appearance.
func Names(template string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range placeholderRegex.FindAllStringSubmatch(template, -1) {
		key := strings.TrimSpace(m[1])
		if !seen[key] {
			seen[key] = true
			names = append(names, key)
		}
	}
	return names
}
