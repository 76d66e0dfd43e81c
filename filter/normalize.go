package filter

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldChain decomposes with compatibility mappings (so "m²" becomes "m2"),
// drops combining marks (so "á" becomes "a", "č" becomes "c"), and
// recomposes. Covers the full Slovak diacritic set in both cases.
var foldChain = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lower-cases text, strips Slovak diacritics, and collapses
// whitespace runs to single spaces. Idempotent; digits and punctuation
// pass through untouched.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	folded, _, err := transform.String(foldChain, text)
	if err != nil {
		// Malformed UTF-8 in seller text: fall back to the raw bytes
		// rather than losing the record.
		folded = text
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
