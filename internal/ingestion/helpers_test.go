package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCaseFoldTrimsAndLowercases(t *testing.T) {
	assert.Equal(t, "alphacorp", caseFold("  AlphaCorp  "))
}

func TestHeadOfTruncatesByRuneCount(t *testing.T) {
	assert.Equal(t, "héllo", headOf("héllo world", 5))
	assert.Equal(t, "hi", headOf("hi", 10))
}

func TestSearchTermsDedupesAndFiltersShortWords(t *testing.T) {
	terms := searchTerms("AlphaCorp acquired BetaInc", "alphacorp is a big firm")
	assert.Contains(t, terms, "alphacorp")
	assert.Contains(t, terms, "acquired")
	assert.Contains(t, terms, "betainc")
	// "is", "a" are shorter than 3 runes and must be dropped.
	assert.NotContains(t, terms, "is")
	assert.NotContains(t, terms, "a")
	// alphacorp appears in both parts but must only be counted once.
	count := 0
	for _, w := range terms {
		if w == "alphacorp" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSearchTermsCapsAtSixteen(t *testing.T) {
	words := ""
	for i := 0; i < 30; i++ {
		words += "word" + string(rune('a'+i)) + " "
	}
	terms := searchTerms(words)
	assert.LessOrEqual(t, len(terms), 16)
}
