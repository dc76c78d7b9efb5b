package ingestion

import (
	"strings"
	"unicode"
)

// caseFold is the canonical fold used everywhere the pipeline merges or
// compares names: case-insensitive, the "case-folded key" §4.8/§5 name.
func caseFold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// headOf returns the first n runes of s, used to scope stage 1's candidate
// search to the title plus the lead of the content (§4.8 stage 1).
func headOf(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// searchTerms tokenizes free text into the alphanumeric terms a retrieval
// query reasons over, deduplicated and length-filtered to skip stopword-ish
// noise.
func searchTerms(parts ...string) []string {
	seen := map[string]bool{}
	var out []string
	for _, part := range parts {
		for _, word := range strings.FieldsFunc(part, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			w := strings.ToLower(word)
			if len(w) < 3 || seen[w] {
				continue
			}
			seen[w] = true
			out = append(out, w)
			if len(out) >= 16 {
				return out
			}
		}
	}
	return out
}
