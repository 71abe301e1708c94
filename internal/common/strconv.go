package common

import (
	"strconv"
	"strings"
)

// AtoiDefault converts the provided string to an integer falling back to the default when parsing fails.
func AtoiDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// ASCIIDigits rewrites Bangla digits to their ASCII counterparts.
func ASCIIDigits(value string) string {
	if value == "" {
		return value
	}
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if r >= '০' && r <= '৯' {
			b.WriteRune('0' + (r - '০'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
