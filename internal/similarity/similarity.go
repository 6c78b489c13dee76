// Package similarity provides the pure scoring functions used by the
// deterministic matcher and the pattern store: edit-distance string
// similarity, keyword-set semantic similarity, and price proximity.
package similarity

import (
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"
)

// String returns a normalized edit-distance similarity in [0,1]. Inputs are
// trimmed and compared case-insensitively. Two empty strings are identical;
// exactly one empty string scores zero.
func String(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))

	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	// The distance counts runes, so normalize by rune length too.
	dist := levenshtein.Distance(a, b, nil)
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

// Semantic returns the Jaccard index of the two strings' keyword sets.
// Both sets empty scores 1.0; exactly one empty set scores 0.0.
func Semantic(a, b string) float64 {
	setA := keywordSet(a)
	setB := keywordSet(b)

	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for word := range setA {
		if _, ok := setB[word]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// Price scores how close an invoice price is to an estimate price, in [0,1].
// A zero or negative estimate price scores zero: there is no meaningful
// ratio to compare against.
func Price(invoicePrice, estimatePrice float64) float64 {
	if estimatePrice <= 0 {
		return 0.0
	}
	maxPrice := invoicePrice
	if estimatePrice > maxPrice {
		maxPrice = estimatePrice
	}
	if maxPrice <= 0 {
		return 0.0
	}

	diff := invoicePrice - estimatePrice
	if diff < 0 {
		diff = -diff
	}
	score := 1.0 - diff/maxPrice
	if score < 0 {
		return 0.0
	}
	return score
}

func keywordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range Keywords(s) {
		set[word] = struct{}{}
	}
	return set
}
