// Package lsb hides a length-prefixed byte stream in the least significant
// bits of the R, G and B channels of an NRGBA image.
//
// Bit i of the stream lives in pixel i/3 (row-major, y outer, x inner),
// channel i%3 (R, G, B). Bytes are written MSB first. The first 32 bits hold
// the big-endian payload length. Alpha is never touched.
package lsb

import (
	"encoding/binary"
	"fmt"
	"github.com/faanross/simulacra_lsb/internal/spec"
	"image"
)

// channelOffset maps stream bit i to its byte in img.Pix
func channelOffset(img *image.NRGBA, width, i int) int {
	pixel, channel := i/spec.CHANNELS, i%spec.CHANNELS
	x, y := pixel%width, pixel/width
	return img.PixOffset(img.Rect.Min.X+x, img.Rect.Min.Y+y) + channel
}

// EmbedBit modifies the LSB of a color value to store a bit
func EmbedBit(colorValue uint8, bit uint8) uint8 {
	return colorValue&0xFE | bit&1
}

// Embed returns a copy of img with payload hidden in its LSBs.
// img itself is never modified; on error no copy is made.
func Embed(img *image.NRGBA, payload []byte) (*image.NRGBA, error) {
	capacity := CapacityOf(img)
	if len(payload) > capacity || !headerFits(img) {
		return nil, &CapacityError{Capacity: capacity, Requested: len(payload)}
	}

	stream := make([]byte, spec.HEADER_SIZE+len(payload))
	binary.BigEndian.PutUint32(stream[:spec.HEADER_SIZE], uint32(len(payload)))
	copy(stream[spec.HEADER_SIZE:], payload)

	out := clone(img)
	width := img.Rect.Dx()

	for i := 0; i < len(stream)*spec.BITS_PER_BYTE; i++ {
		bit := stream[i/spec.BITS_PER_BYTE] >> (7 - i%spec.BITS_PER_BYTE) & 1
		off := channelOffset(out, width, i)
		out.Pix[off] = EmbedBit(out.Pix[off], bit)
	}

	return out, nil
}

// Extract reads the length header and returns exactly that many payload bytes
func Extract(img *image.NRGBA) ([]byte, error) {
	if !headerFits(img) {
		return nil, fmt.Errorf("%w: image too small to hold a header", ErrInvalidLengthHeader)
	}

	width := img.Rect.Dx()
	declared := binary.BigEndian.Uint32(readBytes(img, width, 0, spec.HEADER_SIZE))

	capacity := CapacityOf(img)
	if uint64(declared) > uint64(capacity) {
		return nil, fmt.Errorf("%w: declared %d bytes, image capacity is %d",
			ErrInvalidLengthHeader, declared, capacity)
	}

	return readBytes(img, width, spec.HEADER_BITS, int(declared)), nil
}

// readBytes assembles n bytes starting at stream bit start
func readBytes(img *image.NRGBA, width, start, n int) []byte {
	out := make([]byte, n)
	for i := range n * spec.BITS_PER_BYTE {
		bit := img.Pix[channelOffset(img, width, start+i)] & 1
		out[i/spec.BITS_PER_BYTE] |= bit << (7 - i%spec.BITS_PER_BYTE)
	}
	return out
}

func clone(img *image.NRGBA) *image.NRGBA {
	out := &image.NRGBA{
		Pix:    make([]byte, len(img.Pix)),
		Stride: img.Stride,
		Rect:   img.Rect,
	}
	copy(out.Pix, img.Pix)
	return out
}
