package utils

// Truncate shortens s to at most max runes, appending an ellipsis when it
// cuts. Multibyte input is never split mid-rune.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
