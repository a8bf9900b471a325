package scrypto

import "errors"

var (
	// ErrEncryption is returned when the secure random source fails while sealing.
	ErrEncryption = errors.New("encryption failed")

	// ErrMalformedContainer is returned when a sealed bundle is shorter than nonce + tag.
	ErrMalformedContainer = errors.New("malformed container")

	// ErrAuthenticationFailed is returned when the GCM tag does not verify.
	// A wrong key and tampered data produce the same error.
	ErrAuthenticationFailed = errors.New("authentication failed - wrong password or corrupted data")

	// ErrInvalidLength is returned when a fixed-size value is built from a slice of the wrong length.
	ErrInvalidLength = errors.New("invalid length")
)
