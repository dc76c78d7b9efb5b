package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONFromResponseExtractsArrayWrappedInProse(t *testing.T) {
	resp := "Sure, here are the entities:\n" +
		"```json\n[{\"name\":\"AlphaCorp\",\"nodeType\":\"organization\"}]\n```\n" +
		"Let me know if you need anything else."

	v, err := ParseJSONFromResponse(resp)
	require.NoError(t, err)
	arr, ok := v.([]any)
	require.True(t, ok)
	require.Len(t, arr, 1)
	item, ok := arr[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "AlphaCorp", item["name"])
}

func TestParseJSONFromResponseExtractsObjectWithoutFences(t *testing.T) {
	resp := `the result is {"fact": "AlphaCorp acquired BetaInc", "confidence": 0.9} based on the text`
	v, err := ParseJSONFromResponse(resp)
	require.NoError(t, err)
	obj, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "AlphaCorp acquired BetaInc", obj["fact"])
}

func TestParseJSONFromResponseReturnsNilForPlainProse(t *testing.T) {
	v, err := ParseJSONFromResponse("I couldn't find any structured data here.")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestParseJSONFromResponseReturnsNilForEmptyInput(t *testing.T) {
	v, err := ParseJSONFromResponse("   ")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestExtractContentPrefersChoicesMessage(t *testing.T) {
	result := map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"content": "hello from openai shape"}},
		},
	}
	content, err := extractContent(result)
	require.NoError(t, err)
	assert.Equal(t, "hello from openai shape", content)
}

func TestExtractContentFallsBackToOllamaMessageShape(t *testing.T) {
	result := map[string]any{
		"message": map[string]any{"content": "hello from ollama shape"},
	}
	content, err := extractContent(result)
	require.NoError(t, err)
	assert.Equal(t, "hello from ollama shape", content)
}

func TestExtractContentFallsBackToResponseField(t *testing.T) {
	result := map[string]any{"response": "hello from generate endpoint"}
	content, err := extractContent(result)
	require.NoError(t, err)
	assert.Equal(t, "hello from generate endpoint", content)
}

func TestExtractContentErrorsWhenNoKnownShapeMatches(t *testing.T) {
	_, err := extractContent(map[string]any{"unexpected": "shape"})
	assert.Error(t, err)
}

func TestStripCodeFencesRemovesJSONFence(t *testing.T) {
	out := stripCodeFences("```json\n{\"a\":1}\n```")
	assert.Equal(t, "{\"a\":1}\n", out)
}

func TestStripCodeFencesLeavesPlainTextUntouched(t *testing.T) {
	out := stripCodeFences("no fences here")
	assert.Equal(t, "no fences here", out)
}
