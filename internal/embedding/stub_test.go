package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubTextToVectorIsDeterministic(t *testing.T) {
	s := NewStub()
	a, err := s.TextToVector(context.Background(), "AlphaCorp acquired BetaInc")
	require.NoError(t, err)
	b, err := s.TextToVector(context.Background(), "AlphaCorp acquired BetaInc")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, EmbeddingDimension)
}

func TestStubTextToVectorDiffersAcrossInputs(t *testing.T) {
	s := NewStub()
	a, err := s.TextToVector(context.Background(), "AlphaCorp")
	require.NoError(t, err)
	b, err := s.TextToVector(context.Background(), "BetaInc")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestStubTextsToVectorsMatchesPerCallTextToVector(t *testing.T) {
	s := NewStub()
	texts := []string{"one", "two", "three"}
	batch, err := s.TextsToVectors(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for i, text := range texts {
		single, err := s.TextToVector(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestStubIsReadyAlwaysTrue(t *testing.T) {
	s := NewStub()
	assert.True(t, s.IsReady())
	assert.NoError(t, s.Initialize(context.Background()))
}
