package scrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"github.com/faanross/simulacra_lsb/internal/spec"
	"io"
)

func newGCM(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cipher creation failed: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("GCM creation failed: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext with AES-256-GCM under a fresh random nonce.
// Returns: nonce (12 bytes) || ciphertext || tag (16 bytes)
func Seal(plaintext []byte, key Key) ([]byte, error) {
	return SealWithReader(rand.Reader, plaintext, key)
}

// SealWithReader is Seal with an explicit entropy source for the nonce
func SealWithReader(r io.Reader, plaintext []byte, key Key) ([]byte, error) {
	nonce, err := NewNonce(r)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, spec.NONCE_SIZE+len(plaintext)+spec.TAG_SIZE)
	out = append(out, nonce[:]...)

	// Seal appends ciphertext and tag after the nonce
	return gcm.Seal(out, nonce[:], plaintext, nil), nil
}

// Open verifies and decrypts a nonce || ciphertext || tag bundle
func Open(data []byte, key Key) ([]byte, error) {
	if len(data) < spec.MIN_SEALED_SIZE {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d (nonce + tag)",
			ErrMalformedContainer, len(data), spec.MIN_SEALED_SIZE)
	}

	nonce, err := NonceFromBytes(data[:spec.NONCE_SIZE])
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce[:], data[spec.NONCE_SIZE:], nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
