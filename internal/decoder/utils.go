package decoder

import (
	"errors"
	"fmt"
	"github.com/faanross/simulacra_lsb/internal/lsb"
	"github.com/faanross/simulacra_lsb/internal/scrypto"
	"image"
	"io"
)

// ErrNoPassphraseMatched is returned when every candidate fails authentication
var ErrNoPassphraseMatched = errors.New("no passphrase matched")

// TryPassphrases decodes img with each candidate in order and returns the
// first that authenticates, along with its index.
// Only authentication failures move on to the next candidate.
func (ssd *SecureStegoDecoder) TryPassphrases(img *image.NRGBA, candidates []string) (*ExtractedMessage, int, error) {
	payload, err := lsb.Extract(img)
	if err != nil {
		return nil, -1, err
	}

	for i, candidate := range candidates {
		msg, err := ssd.DecryptPayload(payload, candidate)
		if err == nil {
			return msg, i, nil
		}
		if !errors.Is(err, scrypto.ErrAuthenticationFailed) {
			return nil, -1, err
		}
		ssd.logger.Debug().Int("candidate", i).Msg("passphrase rejected")
	}

	return nil, -1, fmt.Errorf("%w: tried %d candidates", ErrNoPassphraseMatched, len(candidates))
}

// AnalyzeSecurity prints LSB and color channel metrics for an image
func AnalyzeSecurity(w io.Writer, img *image.NRGBA) lsb.Stats {
	stats := lsb.Analyze(img)

	fmt.Fprintf(w, "\n🔒 Security Analysis:\n")
	fmt.Fprintf(w, "   LSB Distribution:\n")
	fmt.Fprintf(w, "     0s: %.1f%%\n", stats.ZeroRatio())
	fmt.Fprintf(w, "     1s: %.1f%%\n", 100-stats.ZeroRatio())

	if stats.LooksEncrypted() {
		fmt.Fprintf(w, "   🔐 Appears to contain encrypted/random data\n")
	} else {
		fmt.Fprintf(w, "   📸 Appears to be a natural image\n")
	}

	fmt.Fprintf(w, "\n   Color Channel Analysis:\n")
	fmt.Fprintf(w, "     Red avg: %.0f\n", stats.ChannelMeans[0])
	fmt.Fprintf(w, "     Green avg: %.0f\n", stats.ChannelMeans[1])
	fmt.Fprintf(w, "     Blue avg: %.0f\n", stats.ChannelMeans[2])
	fmt.Fprintf(w, "   Capacity: %d bytes\n", stats.Capacity)

	return stats
}
