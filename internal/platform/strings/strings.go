// Package strings holds small string helpers shared across packages
package strings

// IfEmpty returns fallback when v is empty
func IfEmpty[T any](v []T, fallback []T) []T {
	if len(v) == 0 {
		return fallback
	}
	return v
}

// Truncate cuts s to at most n runes without splitting a rune
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
