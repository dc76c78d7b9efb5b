package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDsAreUniqueAndNonNil(t *testing.T) {
	a, b := New(), New()
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, Nil, a)
}

func TestParseRoundTrip(t *testing.T) {
	id := New()
	parsed, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("not-a-uuid")
	assert.Error(t, err)
}
