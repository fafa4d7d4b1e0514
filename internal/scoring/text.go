package scoring

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower-cases text, strips diacritics and reduces it to single-space
// separated letter/number tokens, so "Città-Metropolitana" and
// "citta metropolitana" compare equal.
func Fold(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, text)
	if err != nil {
		stripped = text
	}
	tokens := strings.FieldsFunc(strings.ToLower(stripped), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	return strings.Join(tokens, " ")
}

// foldedText is a folded haystack padded for token-boundary lookups.
type foldedText string

func newFoldedText(raw string) foldedText {
	folded := Fold(raw)
	if folded == "" {
		return ""
	}
	return foldedText(" " + folded + " ")
}

// contains reports whether the folded keyword appears on token boundaries.
func (f foldedText) contains(keyword string) bool {
	if f == "" || keyword == "" {
		return false
	}
	return strings.Contains(string(f), " "+keyword+" ")
}

// normalizeKeywords folds, dedupes and sorts keywords so the same watchlist
// always yields the same explanation.
func normalizeKeywords(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, kw := range raw {
		folded := Fold(kw)
		if folded == "" {
			continue
		}
		if _, ok := seen[folded]; ok {
			continue
		}
		seen[folded] = struct{}{}
		out = append(out, folded)
	}
	sort.Strings(out)
	return out
}
