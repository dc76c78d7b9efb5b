package errkind

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesKindAndUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(QueryError, "select nodes", cause)

	assert.True(t, Is(err, QueryError))
	assert.False(t, Is(err, RpcTimeout))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "select nodes")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), QueryError))
}

func TestNewConflictingFactHasNoPublicKindConstant(t *testing.T) {
	err := NewConflictingFact("opposing assertion")
	require.NotNil(t, err)
	assert.Equal(t, conflictingFact, err.Kind)
	assert.False(t, Is(err, QueryError))
	assert.False(t, Is(err, Cancelled))
}
