package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorall/core/internal/idgen"
	"github.com/memorall/core/internal/storage/model"
)

func knownEntities(names ...string) map[string]resolvedEntity {
	out := map[string]resolvedEntity{}
	for _, n := range names {
		out[caseFold(n)] = resolvedEntity{extractedEntity: extractedEntity{Name: n}, ID: idgen.New()}
	}
	return out
}

func TestParseFactsKeepsOnlyKnownEntityPairs(t *testing.T) {
	known := knownEntities("AlphaCorp", "BetaInc")
	resp := "```json\n" +
		`[{"subject":"AlphaCorp","object":"BetaInc","edgeType":"acquired","factText":"AlphaCorp acquired BetaInc"},` +
		`{"subject":"AlphaCorp","object":"Unknown Co","edgeType":"acquired","factText":"irrelevant"}]` +
		"\n```"

	facts := parseFacts(resp, known)
	require.Len(t, facts, 1)
	assert.Equal(t, "AlphaCorp", facts[0].Subject)
	assert.Equal(t, "BetaInc", facts[0].Object)
	assert.Equal(t, "acquired", facts[0].EdgeType)
}

func TestParseFactsSkipsItemsMissingRequiredFields(t *testing.T) {
	known := knownEntities("AlphaCorp", "BetaInc")
	resp := `[{"subject":"AlphaCorp","object":"BetaInc"}]`
	assert.Nil(t, parseFacts(resp, known))
}

func TestParseFactsReturnsNilForUnparsableResponse(t *testing.T) {
	known := knownEntities("AlphaCorp", "BetaInc")
	assert.Nil(t, parseFacts("no structured data in this reply", known))
}

func unitVector(dims int, hot int) []float32 {
	v := make([]float32, dims)
	v[hot] = 1
	return v
}

func TestSemanticMatchFindsReassertionWithSameEdgeType(t *testing.T) {
	sourceID, destID := idgen.New(), idgen.New()
	vec := unitVector(4, 0)
	candidates := []model.Edge{
		{
			ID: idgen.New(), SourceID: sourceID, DestinationID: destID,
			EdgeType: "acquired", IsCurrent: true, FactEmbedding: unitVector(4, 0),
		},
	}

	match, opposing := semanticMatch(vec, "acquired", sourceID, destID, candidates)
	require.NotNil(t, match)
	assert.False(t, opposing)
	assert.Equal(t, candidates[0].ID, match.ID)
}

func TestSemanticMatchFlagsOpposingEdgeType(t *testing.T) {
	sourceID, destID := idgen.New(), idgen.New()
	vec := unitVector(4, 0)
	candidates := []model.Edge{
		{
			ID: idgen.New(), SourceID: sourceID, DestinationID: destID,
			EdgeType: "divested", IsCurrent: true, FactEmbedding: unitVector(4, 0),
		},
	}

	match, opposing := semanticMatch(vec, "acquired", sourceID, destID, candidates)
	require.NotNil(t, match)
	assert.True(t, opposing)
}

func TestSemanticMatchIgnoresNonCurrentEdges(t *testing.T) {
	sourceID, destID := idgen.New(), idgen.New()
	vec := unitVector(4, 0)
	candidates := []model.Edge{
		{
			ID: idgen.New(), SourceID: sourceID, DestinationID: destID,
			EdgeType: "acquired", IsCurrent: false, FactEmbedding: unitVector(4, 0),
		},
	}

	match, _ := semanticMatch(vec, "acquired", sourceID, destID, candidates)
	assert.Nil(t, match)
}

func TestSemanticMatchIgnoresBelowThresholdSimilarity(t *testing.T) {
	sourceID, destID := idgen.New(), idgen.New()
	vec := unitVector(4, 0)
	candidates := []model.Edge{
		{
			ID: idgen.New(), SourceID: sourceID, DestinationID: destID,
			EdgeType: "acquired", IsCurrent: true, FactEmbedding: unitVector(4, 1),
		},
	}

	match, _ := semanticMatch(vec, "acquired", sourceID, destID, candidates)
	assert.Nil(t, match)
}

func TestSemanticMatchMatchesReversedPair(t *testing.T) {
	sourceID, destID := idgen.New(), idgen.New()
	vec := unitVector(4, 0)
	candidates := []model.Edge{
		{
			ID: idgen.New(), SourceID: destID, DestinationID: sourceID,
			EdgeType: "acquired", IsCurrent: true, FactEmbedding: unitVector(4, 0),
		},
	}

	match, _ := semanticMatch(vec, "acquired", sourceID, destID, candidates)
	assert.NotNil(t, match)
}
