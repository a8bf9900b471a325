package scrypto

import (
	"fmt"
	"github.com/faanross/simulacra_lsb/internal/spec"
	"io"
)

// Salt is the random PBKDF2 input stored in front of every container
type Salt [spec.SALT_SIZE]byte

// Nonce is the per-message GCM nonce
type Nonce [spec.NONCE_SIZE]byte

// Key is a derived AES-256 key
type Key [spec.KEY_SIZE]byte

// NewSalt reads a fresh salt from r
func NewSalt(r io.Reader) (Salt, error) {
	var s Salt
	if _, err := io.ReadFull(r, s[:]); err != nil {
		return Salt{}, fmt.Errorf("%w: salt generation: %v", ErrEncryption, err)
	}
	return s, nil
}

// SaltFromBytes copies b into a Salt, rejecting any other length
func SaltFromBytes(b []byte) (Salt, error) {
	var s Salt
	if len(b) != len(s) {
		return Salt{}, fmt.Errorf("%w: salt is %d bytes, want %d", ErrInvalidLength, len(b), len(s))
	}
	copy(s[:], b)
	return s, nil
}

// NewNonce reads a fresh nonce from r
func NewNonce(r io.Reader) (Nonce, error) {
	var n Nonce
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return Nonce{}, fmt.Errorf("%w: nonce generation: %v", ErrEncryption, err)
	}
	return n, nil
}

// NonceFromBytes copies b into a Nonce, rejecting any other length
func NonceFromBytes(b []byte) (Nonce, error) {
	var n Nonce
	if len(b) != len(n) {
		return Nonce{}, fmt.Errorf("%w: nonce is %d bytes, want %d", ErrInvalidLength, len(b), len(n))
	}
	copy(n[:], b)
	return n, nil
}

// Fingerprint returns the first 4 key bytes as hex, safe to show in logs
func (k Key) Fingerprint() string {
	return fmt.Sprintf("%X", k[:4])
}
