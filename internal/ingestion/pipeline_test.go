package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldKeyIsCaseInsensitiveAcrossNameAndType(t *testing.T) {
	assert.Equal(t, foldKey("AlphaCorp", "Organization"), foldKey("alphacorp", "organization"))
}

func TestFoldKeyDistinguishesNameFromType(t *testing.T) {
	// "ab" + "" must not collide with "a" + "b" across the name/type boundary.
	assert.NotEqual(t, foldKey("ab", ""), foldKey("a", "b"))
}

func TestFoldKeyDiffersOnNodeType(t *testing.T) {
	assert.NotEqual(t, foldKey("AlphaCorp", "organization"), foldKey("AlphaCorp", "concept"))
}
