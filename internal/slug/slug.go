// Package slug normalizes text for accent-insensitive matching and stable keys.
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips diacritics. Compatibility decomposition also turns
// ordinal indicators into letters, so "Nº" folds to "no".
func Fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// Words folds s and replaces every non-alphanumeric run with a single space.
func Words(s string) string {
	return join(Fold(s), ' ')
}

// Slugify returns the dedup key for a display name. Slugify(Slugify(x)) == Slugify(x).
func Slugify(s string) string {
	return join(Fold(s), '-')
}

func join(folded string, sep rune) string {
	var b strings.Builder
	b.Grow(len(folded))
	pending := false
	for _, r := range folded {
		if isAlnum(r) {
			if pending && b.Len() > 0 {
				b.WriteRune(sep)
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}
