package util

import "strings"

// FirstNonEmpty returns the first argument that is non-empty after
// trimming whitespace, or "" if all are blank.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
