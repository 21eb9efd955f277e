package consistency

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// digits keeps only ASCII digits, so "12.345.678/0001-99" becomes "12345678000199".
func digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// text lowercases and collapses whitespace runs to single spaces.
func text(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// name is text with diacritics removed ("João" and "joao" compare equal).
func name(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return text(folded)
}
