package lsb

import (
	"github.com/faanross/simulacra_lsb/internal/spec"
	"image"
	"math"
)

// maxCapacity is what both the uint32 header and int can describe
const maxCapacity = min(math.MaxUint32, math.MaxInt)

// Capacity returns how many payload bytes a width x height image can carry:
// floor(width*height*3/8) minus the length header, never below zero.
// The result never exceeds what the uint32 header or an int can describe.
func Capacity(width, height uint32) int {
	total := totalBytes(uint64(width) * uint64(height))
	if total <= spec.HEADER_SIZE {
		return 0
	}
	total -= spec.HEADER_SIZE
	if total > maxCapacity {
		total = maxCapacity
	}
	return int(total)
}

// CapacityOf is Capacity for an existing image
func CapacityOf(img image.Image) int {
	w, h := dimensions(img)
	return Capacity(uint32(w), uint32(h))
}

// headerFits reports whether img has room for the length header itself
func headerFits(img image.Image) bool {
	w, h := dimensions(img)
	return totalBytes(uint64(w)*uint64(h)) >= spec.HEADER_SIZE
}

// totalBytes is floor(pixels*CHANNELS/8) without overflowing for large pixel counts
func totalBytes(pixels uint64) uint64 {
	return (pixels/spec.BITS_PER_BYTE)*spec.CHANNELS + (pixels%spec.BITS_PER_BYTE)*spec.CHANNELS/spec.BITS_PER_BYTE
}

// dimensions returns the pixel size of img
func dimensions(img image.Image) (int, int) {
	b := img.Bounds()
	return b.Dx(), b.Dy()
}
