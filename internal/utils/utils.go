// Package utils contains small string helpers used for reports.
package utils

import (
	"fmt"
	"strings"
)

// ShortenString cuts s after l runes and appends an ellipsis. A length of 0
// leaves s as it is.
func ShortenString(s string, l int) string {
	r := []rune(s)
	if len(r) > l && l != 0 {
		return fmt.Sprintf("%s...", string(r[:l]))
	}
	return s
}

// FirstLine returns the first line of s, e.g. of a multi line browser error.
func FirstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimRight(s[:i], "\r")
	}
	return s
}
