// Package text decides whether an input string is worth sending to the
// synthesis API.
package text

import (
	"strings"
	"unicode"
)

// IsSpeakable reports whether text contains anything a voice could read:
// after trimming it must be non-empty and hold at least one letter or digit.
// Strings made only of punctuation, symbols or whitespace are rejected.
func IsSpeakable(input string) bool {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return false
	}

	return strings.IndexFunc(trimmed, isLetterOrDigit) >= 0
}

func isLetterOrDigit(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}
