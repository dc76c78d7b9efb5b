package ingestion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProvenanceWeightStartsAtZero(t *testing.T) {
	assert.Equal(t, 0.0, provenanceWeight(0))
}

func TestProvenanceWeightIncreasesWithCount(t *testing.T) {
	var prev float64
	for count := 1; count <= 10; count++ {
		w := provenanceWeight(count)
		assert.Greater(t, w, prev)
		assert.Less(t, w, 1.0)
		prev = w
	}
}

func TestProvenanceWeightApproachesOneAsymptotically(t *testing.T) {
	w := provenanceWeight(100)
	assert.True(t, math.Abs(1-w) < 1e-9)
}
