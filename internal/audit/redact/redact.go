// Package redact masks sensitive values in audit state snapshots.
package redact

import "strings"

// Marker replaces every redacted value.
const Marker = "***REDACTED***"

var sensitiveFragments = []string{"password", "token", "secret", "key"}

// IsSensitive reports whether a field name must never be stored in clear.
// Matching is a case-insensitive substring test.
func IsSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// Map returns a redacted deep copy of m. Nested maps and slices are walked;
// a sensitive key is masked whatever its value's shape. The input is not modified.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitive(k) {
			out[k] = Marker
			continue
		}
		out[k] = value(v)
	}
	return out
}

func value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Map(t)
	case map[string]string:
		conv := make(map[string]any, len(t))
		for k, s := range t {
			conv[k] = s
		}
		return Map(conv)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = value(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Map(item)
		}
		return out
	default:
		return v
	}
}
