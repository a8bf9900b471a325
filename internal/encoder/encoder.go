package encoder

import (
	"crypto/rand"
	"fmt"
	"github.com/faanross/simulacra_lsb/internal/imgcodec"
	"github.com/faanross/simulacra_lsb/internal/lsb"
	"github.com/rs/zerolog"
	"image"
	"io"
)

// SecureStegoEncoder handles encrypted steganography.
// It keeps no per-message state and is safe for concurrent use as long as
// its entropy source is.
type SecureStegoEncoder struct {
	random io.Reader
	logger zerolog.Logger
}

// Option configures a SecureStegoEncoder
type Option func(*SecureStegoEncoder)

// WithRandom replaces crypto/rand as the source for salts and nonces
func WithRandom(r io.Reader) Option {
	return func(sse *SecureStegoEncoder) {
		sse.random = r
	}
}

// WithLogger sets the logger used for debug output
func WithLogger(logger zerolog.Logger) Option {
	return func(sse *SecureStegoEncoder) {
		sse.logger = logger
	}
}

// NewSecureStegoEncoder creates an encoder with encryption
func NewSecureStegoEncoder(opts ...Option) *SecureStegoEncoder {
	sse := &SecureStegoEncoder{
		random: rand.Reader,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(sse)
	}
	return sse
}

// EncodeImage hides an encrypted message in a PNG or BMP cover and returns
// the stego image in the same format.
func EncodeImage(imageBytes []byte, message, passphrase string) ([]byte, error) {
	return NewSecureStegoEncoder().EncodeImage(imageBytes, message, passphrase)
}

// EncodeImage hides an encrypted message in a PNG or BMP cover and returns
// the stego image in the same format.
func (sse *SecureStegoEncoder) EncodeImage(imageBytes []byte, message, passphrase string) ([]byte, error) {
	cover, format, err := imgcodec.Decode(imageBytes)
	if err != nil {
		return nil, err
	}

	stego, err := sse.EncodeCover(cover, message, passphrase)
	if err != nil {
		return nil, err
	}

	out, err := imgcodec.Encode(stego, format)
	if err != nil {
		return nil, fmt.Errorf("stego image encoding failed: %w", err)
	}
	return out, nil
}

// EncodeCover is EncodeImage on an already decoded pixel grid.
// The cover is never modified.
func (sse *SecureStegoEncoder) EncodeCover(cover *image.NRGBA, message, passphrase string) (*image.NRGBA, error) {
	capacity := lsb.CapacityOf(cover)
	required := RequiredPayloadSize(len(message))

	// Fail before spending time on key derivation
	if required > capacity {
		return nil, &lsb.CapacityError{Capacity: capacity, Requested: required}
	}

	payload, err := sse.PrepareSecurePayload([]byte(message), passphrase)
	if err != nil {
		return nil, err
	}

	stego, err := lsb.Embed(cover, payload)
	if err != nil {
		return nil, err
	}

	sse.logger.Debug().
		Int("payload_bytes", len(payload)).
		Int("capacity", capacity).
		Str("utilization", fmt.Sprintf("%.1f%%", float64(len(payload))*100/float64(max(capacity, 1)))).
		Msg("payload embedded")

	return stego, nil
}
