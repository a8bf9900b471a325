package encoder

import (
	"errors"
	"fmt"
	"github.com/faanross/simulacra_lsb/internal/lsb"
	"github.com/faanross/simulacra_lsb/internal/spec"
	"image"
	"io"
)

// ErrInvalidWidth is returned when a cover is requested with a non-positive width
var ErrInvalidWidth = errors.New("cover width must be positive")

// RequiredPayloadSize is the number of bytes embedded for a message of the given length
func RequiredPayloadSize(messageLen int) int {
	return spec.CONTAINER_OVERHEAD + messageLen
}

// CalculateImageDimensions determines the smallest cover of a fixed width
// that holds payloadLen bytes plus the length header
func CalculateImageDimensions(width, payloadLen int) (int, int, error) {
	if width <= 0 {
		return 0, 0, ErrInvalidWidth
	}

	totalBits := (spec.HEADER_SIZE + payloadLen) * spec.BITS_PER_BYTE
	pixelsNeeded := (totalBits + spec.CHANNELS - 1) / spec.CHANNELS
	height := max((pixelsNeeded+width-1)/width, 1)

	return width, height, nil
}

// GenerateCover builds an opaque random-noise cover large enough for payloadLen bytes
func GenerateCover(width, payloadLen int, r io.Reader) (*image.NRGBA, error) {
	w, h, err := CalculateImageDimensions(width, payloadLen)
	if err != nil {
		return nil, err
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))

	// Random base colors make the embedded LSBs blend in
	if _, err := io.ReadFull(r, img.Pix); err != nil {
		return nil, fmt.Errorf("cover generation failed: %w", err)
	}
	for i := spec.BYTES_PER_PIXEL - 1; i < len(img.Pix); i += spec.BYTES_PER_PIXEL {
		img.Pix[i] = 0xFF
	}

	return img, nil
}

// AnalyzeImageSecurity prints LSB metrics for a stego image
func AnalyzeImageSecurity(w io.Writer, img *image.NRGBA) lsb.Stats {
	stats := lsb.Analyze(img)

	fmt.Fprintf(w, "\n🔒 Security Analysis:\n")
	fmt.Fprintf(w, "   LSB Entropy: %.4f bits (max: 8.0)\n", stats.Entropy)
	fmt.Fprintf(w, "   Randomness: %.1f%%\n", stats.Entropy/8.0*100)
	fmt.Fprintf(w, "   LSB Distribution: %.1f%% zeros, %.1f%% ones\n",
		stats.ZeroRatio(), 100-stats.ZeroRatio())

	if stats.Entropy > 7.9 {
		fmt.Fprintf(w, "   ✅ High entropy - statistically indistinguishable from random\n")
	} else if stats.Entropy > 7.5 {
		fmt.Fprintf(w, "   ⚠️  Good entropy - difficult to detect\n")
	} else {
		fmt.Fprintf(w, "   ❌ Low entropy - may be detectable\n")
	}

	return stats
}
