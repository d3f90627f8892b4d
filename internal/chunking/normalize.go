package chunking

import (
	"regexp"
	"strings"
)

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// Normalize removes C0 control characters, collapses whitespace runs to a
// single space and trims the result. Invalid UTF-8 is dropped first.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	text := strings.ToValidUTF8(raw, "")
	text = controlChars.ReplaceAllString(text, "")
	text = whitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
