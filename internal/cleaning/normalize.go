package cleaning

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Portuguese connectives stay lowercase in title-cased business names.
var lowercaseConnectives = map[string]bool{
	"de":   true,
	"da":   true,
	"do":   true,
	"das":  true,
	"dos":  true,
	"e":    true,
	"em":   true,
	"para": true,
}

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// StripAccents removes diacritical marks, so "São José" becomes "Sao Jose".
func StripAccents(s string) string {
	out, _, err := transform.String(accentStripper, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeName title-cases a business name, keeping Portuguese connectives
// lowercase. The first word is always capitalized.
func NormalizeName(name string) string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	for i, w := range words {
		if i > 0 && lowercaseConnectives[w] {
			continue
		}
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(w string) string {
	r := []rune(w)
	if len(r) == 0 {
		return w
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// foldForMatch lowercases and strips accents for pattern matching.
func foldForMatch(s string) string {
	return strings.ToLower(StripAccents(s))
}
