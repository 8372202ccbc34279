package util

import (
	"html"
	"regexp"
	"strings"
)

var nonPhoneChars = regexp.MustCompile(`[^\d+]`)

// SanitizeInput trims and HTML-escapes free text before it is stored.
func SanitizeInput(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}

// SanitizePhoneNumber drops every character that is not a digit or '+'.
// The result is not validated.
func SanitizePhoneNumber(phone string) string {
	return nonPhoneChars.ReplaceAllString(phone, "")
}

// Truncate cuts s to at most n bytes.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
