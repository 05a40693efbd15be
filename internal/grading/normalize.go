package grading

import (
	"regexp"
	"strings"
)

// optionPrefix matches a leading option letter such as "A. " or "b.".
var optionPrefix = regexp.MustCompile(`^[a-zA-Z]\.\s*`)

// Normalize canonicalizes an answer for comparison: surrounding whitespace is trimmed,
// a leading option-letter prefix is removed and the result is lower-cased.
//
//	Normalize("A. Paris") == "paris"
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = optionPrefix.ReplaceAllString(s, "")
	return strings.ToLower(strings.TrimSpace(s))
}
