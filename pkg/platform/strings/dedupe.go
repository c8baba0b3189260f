// Package strings provides string list helpers shared by config parsing.
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
//
// Example:
//
//	DedupeAndTrim([]string{"  10.0.0.0/8 ", "kafka:9092", "10.0.0.0/8", ""})
//	// Returns: []string{"10.0.0.0/8", "kafka:9092"}
func DedupeAndTrim(values []string) []string {
	result := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}
	return result
}

// SplitList splits a comma-separated value and applies DedupeAndTrim.
func SplitList(raw string) []string {
	return DedupeAndTrim(strings.Split(raw, ","))
}
