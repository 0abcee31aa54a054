// Package textnorm folds free text into the canonical form used for matching
// queries against listing titles.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// separators are collapsed to a single space after folding.
const separators = "/_+,;:~"

// Normalize decomposes s, strips combining marks, lowercases it, turns
// separator runs into spaces and collapses whitespace.
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	folded = strings.Map(func(r rune) rune {
		if strings.ContainsRune(separators, r) {
			return ' '
		}
		return r
	}, folded)

	return strings.Join(strings.Fields(folded), " ")
}
