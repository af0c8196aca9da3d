// Package crypto seals audit export bundles before they are written to archive storage.
// Exports contain a user's complete audit history, so bundles are encrypted with
// AES-256-GCM under a key derived from the configured passphrase.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrKeyLengthInvalid is returned when a master key is not exactly 32 bytes.
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrCiphertextCorrupted is returned when a sealed bundle is too short to hold a nonce.
	ErrCiphertextCorrupted = errors.New("crypto: ciphertext is corrupted or truncated")
	// ErrDecryptionFailed is returned when GCM authentication fails.
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
	// ErrSaltTooShort is returned when the salt is shorter than 16 bytes.
	ErrSaltTooShort = errors.New("crypto: salt must be at least 16 bytes")
)

const minIterations = 100000

// BundleCipher encrypts and decrypts archive bundles.
type BundleCipher struct {
	aead cipher.AEAD
}

// NewBundleCipher creates a cipher from a 32-byte key.
func NewBundleCipher(key []byte) (*BundleCipher, error) {
	if len(key) != 32 {
		return nil, ErrKeyLengthInvalid
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &BundleCipher{aead: aead}, nil
}

// DeriveBundleCipher derives the key from passphrase with PBKDF2-SHA256. Iteration
// counts below 100000 are raised to it.
func DeriveBundleCipher(passphrase string, salt []byte, iterations int) (*BundleCipher, error) {
	if len(salt) < 16 {
		return nil, ErrSaltTooShort
	}
	if iterations < minIterations {
		iterations = minIterations
	}
	return NewBundleCipher(pbkdf2.Key([]byte(passphrase), salt, iterations, 32, sha256.New))
}

// Seal encrypts plaintext. The output is nonce || ciphertext.
func (c *BundleCipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func (c *BundleCipher) Open(sealed []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(sealed) < n+c.aead.Overhead() {
		return nil, ErrCiphertextCorrupted
	}
	plaintext, err := c.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
