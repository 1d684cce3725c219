package moderation

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalizer strips diacritics so "höwdy" and "howdy" compare equal. Folding
// to lower case happens separately since it is not a transform.
var normalizer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Wordlist is a blocked-term filter matched against normalized message text.
type Wordlist struct {
	terms []string
}

// NewWordlist builds a filter from the given terms. Empty terms are dropped;
// all terms are normalized once up front.
func NewWordlist(terms []string) *Wordlist {
	list := &Wordlist{}
	for _, term := range terms {
		normalized := normalizeText(term)
		if normalized != "" {
			list.terms = append(list.terms, normalized)
		}
	}
	return list
}

// Match reports whether the text contains a blocked term, and which one.
func (w *Wordlist) Match(text string) (string, bool) {
	normalized := normalizeText(text)
	for _, term := range w.terms {
		if strings.Contains(normalized, term) {
			return term, true
		}
	}
	return "", false
}

// Empty reports whether the filter has no terms.
func (w *Wordlist) Empty() bool {
	return len(w.terms) == 0
}

func normalizeText(text string) string {
	normalized, _, err := transform.String(normalizer, text)
	if err != nil {
		normalized = text
	}
	return strings.ToLower(strings.TrimSpace(normalized))
}
