package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntitiesExtractsFromWellFormedJSON(t *testing.T) {
	resp := "```json\n" +
		`[{"name":"AlphaCorp","nodeType":"organization","summary":"acquirer"},` +
		`{"name":"BetaInc","nodeType":"organization","summary":"acquired"}]` +
		"\n```"

	entities := parseEntities(resp)
	require.Len(t, entities, 2)
	assert.Equal(t, "AlphaCorp", entities[0].Name)
	assert.Equal(t, "organization", entities[0].NodeType)
	assert.Equal(t, "BetaInc", entities[1].Name)
}

func TestParseEntitiesSkipsItemsMissingName(t *testing.T) {
	resp := `[{"nodeType":"organization"},{"name":"BetaInc"}]`
	entities := parseEntities(resp)
	require.Len(t, entities, 1)
	assert.Equal(t, "BetaInc", entities[0].Name)
}

func TestParseEntitiesDefaultsNodeTypeToConcept(t *testing.T) {
	resp := `[{"name":"Photosynthesis"}]`
	entities := parseEntities(resp)
	require.Len(t, entities, 1)
	assert.Equal(t, "concept", entities[0].NodeType)
}

func TestParseEntitiesReturnsNilForNonArrayResponse(t *testing.T) {
	resp := `{"name":"not an array"}`
	assert.Nil(t, parseEntities(resp))
}

func TestParseEntitiesReturnsNilForUnparsableResponse(t *testing.T) {
	assert.Nil(t, parseEntities("I don't have any entities to report."))
}
