// Package transcript holds the text normalization shared by every stage
// that compares or forwards recognized speech.
package transcript

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var lower = cases.Lower(language.Und)

// Normalize composes Hangul jamo into syllables (NFC), trims surrounding
// whitespace, collapses inner runs of whitespace and lowercases the result.
func Normalize(text string) string {
	composed := norm.NFC.String(text)
	fields := strings.Fields(composed)
	if len(fields) == 0 {
		return ""
	}
	return lower.String(strings.Join(fields, " "))
}

// ContainsFold reports whether keyword occurs in text after both are normalized.
func ContainsFold(text string, keyword string) bool {
	needle := Normalize(keyword)
	if needle == "" {
		return false
	}
	return strings.Contains(Normalize(text), needle)
}
