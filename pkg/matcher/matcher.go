// Package matcher decides which catalog products a free-text message is
// asking about.
package matcher

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"shopbot/pkg/catalog"
)

var synonymSeparators = regexp.MustCompile(`[,;|]+`)

// Normalize folds diacritics and lower-cases s. Punctuation is kept so that
// phrase keywords can still be found by substring.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// Words strips punctuation from an already normalized text and splits it on
// whitespace.
func Words(normalized string) []string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, normalized)
	return strings.Fields(stripped)
}

// Keywords returns the normalized candidate keys of p: its keyword followed
// by every synonym, empty entries dropped.
func Keywords(p catalog.Product) []string {
	return keywordSet(p.Keyword, p.Synonym)
}

func keywordSet(primary, synonyms string) []string {
	raw := []string{primary}
	if strings.TrimSpace(synonyms) != "" {
		raw = append(raw, synonymSeparators.Split(synonyms, -1)...)
	}
	out := make([]string, 0, len(raw))
	for _, kw := range raw {
		if n := Normalize(strings.TrimSpace(kw)); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Text is a message prepared for keyword matching.
type Text struct {
	Normalized string
	words      map[string]struct{}
}

func Prepare(raw string) Text {
	normalized := Normalize(raw)
	words := Words(normalized)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return Text{Normalized: normalized, words: set}
}

// Contains applies the matching rule for one normalized keyword: phrases
// (keywords with an inner space) match by substring, single words only as a
// whole token.
func (t Text) Contains(keyword string) bool {
	if keyword == "" {
		return false
	}
	if strings.Contains(keyword, " ") {
		return strings.Contains(t.Normalized, keyword)
	}
	_, ok := t.words[keyword]
	return ok
}

// ContainsAny reports whether any of keywords matches.
func (t Text) ContainsAny(keywords []string) bool {
	for _, kw := range keywords {
		if t.Contains(kw) {
			return true
		}
	}
	return false
}

// Match returns every product with at least one matching keyword, in catalog
// order. An empty result is a normal outcome.
func Match(text string, products []catalog.Product) []catalog.Product {
	prepared := Prepare(text)
	var matched []catalog.Product
	for _, p := range products {
		if prepared.ContainsAny(Keywords(p)) {
			matched = append(matched, p)
		}
	}
	return matched
}

// MatchFAQ is Match for FAQ entries, using the question and its keywords.
func MatchFAQ(text string, faqs []catalog.FAQ) []catalog.FAQ {
	prepared := Prepare(text)
	var matched []catalog.FAQ
	for _, f := range faqs {
		if prepared.ContainsAny(keywordSet(f.Question, f.Keywords)) {
			matched = append(matched, f)
		}
	}
	return matched
}
