// Package crypto encrypts the ciphertext blobs stored in the `encryption`
// table (API keys, model-runtime credentials) at rest.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
)

// Box encrypts/decrypts small secrets with ChaCha20-Poly1305, keyed by a
// passphrase supplied at startup (e.g. a host-local master key, never a
// per-user secret since the core has no multi-user concept).
type Box struct {
	key    []byte
	logger *zap.Logger
}

// New derives a 32-byte ChaCha20-Poly1305 key from passphrase via SHA-256.
func New(passphrase string, logger *zap.Logger) (*Box, error) {
	if len(passphrase) < 16 {
		return nil, fmt.Errorf("crypto: passphrase must be at least 16 characters")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	key := sha256.Sum256([]byte(passphrase))
	return &Box{key: key[:], logger: logger.Named("crypto")}, nil
}

// Encrypt returns base64-encoded ciphertext for plaintext.
func (b *Box) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	aead, err := chacha20poly1305.New(b.key)
	if err != nil {
		return "", fmt.Errorf("crypto: new aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}

	ciphertext := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt.
func (b *Box) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decode base64: %w", err)
	}

	aead, err := chacha20poly1305.New(b.key)
	if err != nil {
		return "", fmt.Errorf("crypto: new aead: %w", err)
	}

	if len(data) < aead.NonceSize() {
		return "", fmt.Errorf("crypto: ciphertext too short")
	}

	nonce, sealed := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		b.logger.Warn("decrypt failed: possible tampering or wrong key")
		return "", fmt.Errorf("crypto: open: %w", err)
	}
	return string(plaintext), nil
}
