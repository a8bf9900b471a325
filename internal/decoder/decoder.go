package decoder

import (
	"errors"
	"github.com/faanross/simulacra_lsb/internal/imgcodec"
	"github.com/faanross/simulacra_lsb/internal/lsb"
	"github.com/rs/zerolog"
	"image"
)

var (
	// ErrTruncatedPayload is returned when the embedded payload is too short to hold a salt.
	ErrTruncatedPayload = errors.New("truncated payload")

	// ErrInvalidText is returned when the decrypted message is not valid UTF-8.
	ErrInvalidText = errors.New("decrypted message is not valid UTF-8")
)

// SecureStegoDecoder handles extraction and decryption.
// It is stateless and safe for concurrent use.
type SecureStegoDecoder struct {
	logger zerolog.Logger
}

// Option configures a SecureStegoDecoder
type Option func(*SecureStegoDecoder)

// WithLogger sets the logger used for debug output
func WithLogger(logger zerolog.Logger) Option {
	return func(ssd *SecureStegoDecoder) {
		ssd.logger = logger
	}
}

// NewSecureStegoDecoder creates a decoder instance
func NewSecureStegoDecoder(opts ...Option) *SecureStegoDecoder {
	ssd := &SecureStegoDecoder{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(ssd)
	}
	return ssd
}

// DecodeImage recovers the message hidden in a PNG or BMP image
func DecodeImage(imageBytes []byte, passphrase string) (string, error) {
	return NewSecureStegoDecoder().DecodeImage(imageBytes, passphrase)
}

// DecodeImage recovers the message hidden in a PNG or BMP image
func (ssd *SecureStegoDecoder) DecodeImage(imageBytes []byte, passphrase string) (string, error) {
	img, _, err := imgcodec.Decode(imageBytes)
	if err != nil {
		return "", err
	}

	msg, err := ssd.Decode(img, passphrase)
	if err != nil {
		return "", err
	}
	return msg.Message, nil
}

// Decode extracts and decrypts the payload of an already decoded image
func (ssd *SecureStegoDecoder) Decode(img *image.NRGBA, passphrase string) (*ExtractedMessage, error) {
	payload, err := lsb.Extract(img)
	if err != nil {
		return nil, err
	}

	ssd.logger.Debug().
		Int("width", img.Rect.Dx()).
		Int("height", img.Rect.Dy()).
		Int("payload_bytes", len(payload)).
		Msg("payload extracted")

	return ssd.DecryptPayload(payload, passphrase)
}
