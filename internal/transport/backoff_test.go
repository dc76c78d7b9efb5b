package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesEachAttempt(t *testing.T) {
	b := &backoff{}

	delay, giveUp := b.next()
	assert.False(t, giveUp)
	assert.Equal(t, 100, delay)

	delay, giveUp = b.next()
	assert.False(t, giveUp)
	assert.Equal(t, 200, delay)

	delay, giveUp = b.next()
	assert.False(t, giveUp)
	assert.Equal(t, 400, delay)
}

func TestBackoffLastAttemptBeforeGivingUp(t *testing.T) {
	b := &backoff{attempt: 4}
	delay, giveUp := b.next()
	assert.False(t, giveUp)
	assert.Equal(t, 1600, delay)
}

func TestBackoffGivesUpAfterMaxAttempts(t *testing.T) {
	b := &backoff{}
	for i := 0; i < backoffMaxAttempt; i++ {
		_, giveUp := b.next()
		assert.False(t, giveUp)
	}
	_, giveUp := b.next()
	assert.True(t, giveUp)
}

func TestBackoffResetRestartsLadder(t *testing.T) {
	b := &backoff{attempt: 3}
	b.reset()
	delay, giveUp := b.next()
	assert.False(t, giveUp)
	assert.Equal(t, 100, delay)
}
