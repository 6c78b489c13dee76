package similarity

import (
	"regexp"
	"strings"
)

// stopWords are dropped during keyword extraction. Deliberately short: the
// goal is stripping filler from supplier names and line descriptions, not
// full-text search.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {},
	"that": {}, "this": {}, "are": {}, "was": {}, "per": {},
	"each": {}, "inc": {}, "llc": {}, "ltd": {}, "co": {},
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9\s]+`)

// Keywords extracts the significant tokens of a string: lowercased, stripped
// of punctuation, with stop words and tokens of two characters or fewer
// removed. Order of first appearance is preserved; duplicates are dropped.
func Keywords(s string) []string {
	cleaned := nonAlphanumeric.ReplaceAllString(strings.ToLower(s), " ")

	var keywords []string
	seen := make(map[string]struct{})
	for _, token := range strings.Fields(cleaned) {
		if len(token) <= 2 {
			continue
		}
		if _, stop := stopWords[token]; stop {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		keywords = append(keywords, token)
	}
	return keywords
}

// CanonicalKey reduces a string to the canonical pattern key: the first
// three extracted keywords joined with spaces. Pattern creation and pattern
// lookup both use this, so a learned key always matches its own lookup.
func CanonicalKey(s string) string {
	keywords := Keywords(s)
	if len(keywords) > 3 {
		keywords = keywords[:3]
	}
	return strings.Join(keywords, " ")
}
