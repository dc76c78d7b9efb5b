package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsShortPassphrase(t *testing.T) {
	_, err := New("tooshort", nil)
	assert.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	box, err := New("a sufficiently long passphrase", nil)
	require.NoError(t, err)

	ciphertext, err := box.Encrypt("sk-runner-api-key-123")
	require.NoError(t, err)
	assert.NotEmpty(t, ciphertext)
	assert.NotContains(t, ciphertext, "sk-runner-api-key-123")

	plaintext, err := box.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "sk-runner-api-key-123", plaintext)
}

func TestEncryptProducesDifferentCiphertextEachTime(t *testing.T) {
	box, err := New("a sufficiently long passphrase", nil)
	require.NoError(t, err)

	a, err := box.Encrypt("same plaintext")
	require.NoError(t, err)
	b, err := box.Encrypt("same plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "random nonce should make repeated encryptions differ")
}

func TestDecryptFailsWithWrongKey(t *testing.T) {
	boxA, err := New("a sufficiently long passphrase", nil)
	require.NoError(t, err)
	boxB, err := New("a different long passphrase!!", nil)
	require.NoError(t, err)

	ciphertext, err := boxA.Encrypt("secret")
	require.NoError(t, err)

	_, err = boxB.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestEmptyPlaintextRoundTripsToEmptyCiphertext(t *testing.T) {
	box, err := New("a sufficiently long passphrase", nil)
	require.NoError(t, err)

	ciphertext, err := box.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, ciphertext)

	plaintext, err := box.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Empty(t, plaintext)
}
