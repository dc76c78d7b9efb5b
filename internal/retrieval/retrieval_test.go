package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorall/core/internal/idgen"
)

func ids(n int) []idgen.ID {
	out := make([]idgen.ID, n)
	for i := range out {
		out[i] = idgen.New()
	}
	return out
}

func TestFuseWhenTwoSourcesEmptyThirdTakesFullShare(t *testing.T) {
	trigramIDs := ids(5)
	sources := []source{
		{name: "sql", ids: nil},
		{name: "vector", ids: nil},
		{name: "trigram", ids: trigramIDs},
	}

	out := fuse(sources, Weights{SQL: 1, Vector: 1, Trigram: 1}, 5)

	require.Len(t, out, 5)
	assert.ElementsMatch(t, trigramIDs, out)
}

func TestFuseWhenOneSourceEmptyRedistributesItsShare(t *testing.T) {
	sqlIDs := ids(10)
	trigramIDs := ids(10)
	sources := []source{
		{name: "sql", ids: sqlIDs},
		{name: "vector", ids: nil},
		{name: "trigram", ids: trigramIDs},
	}

	out := fuse(sources, Weights{SQL: 1.0 / 3, Vector: 1.0 / 3, Trigram: 1.0 / 3}, 10)

	require.Len(t, out, 10)
	// vector's third redistributes evenly between sql and trigram, so each
	// should contribute roughly half of the limit rather than a third.
	sqlCount, trigramCount := 0, 0
	sqlSet := map[idgen.ID]bool{}
	for _, id := range sqlIDs {
		sqlSet[id] = true
	}
	trigramSet := map[idgen.ID]bool{}
	for _, id := range trigramIDs {
		trigramSet[id] = true
	}
	for _, id := range out {
		if sqlSet[id] {
			sqlCount++
		}
		if trigramSet[id] {
			trigramCount++
		}
	}
	assert.InDelta(t, 5, sqlCount, 1)
	assert.InDelta(t, 5, trigramCount, 1)
}

func TestFuseDedupsByIDPreservingFirstOccurrence(t *testing.T) {
	shared := ids(3)
	sources := []source{
		{name: "sql", ids: shared},
		{name: "vector", ids: shared},
		{name: "trigram", ids: shared},
	}

	out := fuse(sources, Weights{SQL: 1, Vector: 1, Trigram: 1}, 10)

	require.Len(t, out, 3)
	assert.ElementsMatch(t, shared, out)
}

func TestFuseReturnsNilWhenAllSourcesEmpty(t *testing.T) {
	sources := []source{
		{name: "sql", ids: nil},
		{name: "vector", ids: nil},
		{name: "trigram", ids: nil},
	}
	out := fuse(sources, Weights{SQL: 1, Vector: 1, Trigram: 1}, 5)
	assert.Nil(t, out)
}

func TestFuseNeverExceedsLimit(t *testing.T) {
	sources := []source{
		{name: "sql", ids: ids(20)},
		{name: "vector", ids: ids(20)},
		{name: "trigram", ids: ids(20)},
	}
	out := fuse(sources, Weights{SQL: 0.5, Vector: 0.3, Trigram: 0.2}, 7)
	assert.Len(t, out, 7)
}

func TestFuseToppUpWhenPrioritySourcesRunDry(t *testing.T) {
	// sql/vector only have one candidate each; trigram should top up the rest.
	sqlIDs := ids(1)
	vectorIDs := ids(1)
	trigramIDs := ids(10)
	sources := []source{
		{name: "sql", ids: sqlIDs},
		{name: "vector", ids: vectorIDs},
		{name: "trigram", ids: trigramIDs},
	}
	out := fuse(sources, Weights{SQL: 0.33, Vector: 0.33, Trigram: 0.34}, 8)
	require.Len(t, out, 8)
	assert.Contains(t, out, sqlIDs[0])
	assert.Contains(t, out, vectorIDs[0])
}

func TestWeightsNormalizeFallsBackToEvenSplitWhenZero(t *testing.T) {
	w := Weights{}.normalize()
	assert.InDelta(t, 1.0/3, w.SQL, 1e-9)
	assert.InDelta(t, 1.0/3, w.Vector, 1e-9)
	assert.InDelta(t, 1.0/3, w.Trigram, 1e-9)
}

func TestWeightsNormalizeSumsToOne(t *testing.T) {
	w := Weights{SQL: 2, Vector: 1, Trigram: 1}.normalize()
	assert.InDelta(t, 1.0, w.SQL+w.Vector+w.Trigram, 1e-9)
	assert.InDelta(t, 0.5, w.SQL, 1e-9)
}
