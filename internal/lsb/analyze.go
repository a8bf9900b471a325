package lsb

import (
	"github.com/faanross/simulacra_lsb/internal/spec"
	"image"
	"math"
)

// Stats summarizes the LSB plane of an image
type Stats struct {
	Width, Height int
	Zeros, Ones   int        // LSB counts over R, G, B
	Entropy       float64    // Shannon entropy of the packed LSB bytes, 0..8
	ChannelMeans  [3]float64 // R, G, B averages
	Capacity      int
}

// ZeroRatio returns the share of LSBs that are 0, in percent
func (s Stats) ZeroRatio() float64 {
	total := s.Zeros + s.Ones
	if total == 0 {
		return 0
	}
	return float64(s.Zeros) * 100 / float64(total)
}

// LooksEncrypted reports an LSB distribution close to 50/50, which is what
// encrypted or random data looks like
func (s Stats) LooksEncrypted() bool {
	r := s.ZeroRatio()
	return r > 45 && r < 55
}

// Analyze walks the whole LSB plane in embedding order
func Analyze(img *image.NRGBA) Stats {
	w, h := dimensions(img)
	stats := Stats{Width: w, Height: h, Capacity: CapacityOf(img)}

	bits := w * h * spec.CHANNELS
	frequency := make(map[byte]int)
	var current byte
	var sums [3]uint64

	for i := range bits {
		off := channelOffset(img, w, i)
		value := img.Pix[off]
		sums[i%spec.CHANNELS] += uint64(value)

		bit := value & 1
		if bit == 0 {
			stats.Zeros++
		} else {
			stats.Ones++
		}

		current = current<<1 | bit
		if i%spec.BITS_PER_BYTE == 7 {
			frequency[current]++
			current = 0
		}
	}

	if pixels := w * h; pixels > 0 {
		for c := range sums {
			stats.ChannelMeans[c] = float64(sums[c]) / float64(pixels)
		}
	}

	packed := bits / spec.BITS_PER_BYTE
	for _, count := range frequency {
		p := float64(count) / float64(packed)
		stats.Entropy -= p * math.Log2(p)
	}

	return stats
}
