package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransformer decomposes characters, strips combining marks, and
// recomposes, turning "Tütorial" into "Tutorial".
var foldTransformer = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeTitle lowercases text, strips diacritics, and collapses runs of
// whitespace. The result is the canonical form marker matching runs against.
func NormalizeTitle(text string) string {
	folded, _, err := transform.String(foldTransformer, text)
	if err != nil {
		folded = text
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// ContainsAny reports whether any marker occurs in the normalized text.
// Markers are expected to already be lowercase; multi-word markers match as
// phrases.
func ContainsAny(normalized string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}
