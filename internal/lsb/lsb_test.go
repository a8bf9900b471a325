package lsb

import (
	"bytes"
	"crypto/rand"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"image"
	"math"
	"testing"
)

// newCover builds a deterministic, non-uniform cover with varying alpha
func newCover(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = byte(i*37 + i/7)
	}
	return img
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestCapacity(t *testing.T) {
	tests := []struct {
		name          string
		width, height uint32
		want          int
	}{
		{"100x100", 100, 100, 3746},
		{"empty", 0, 0, 0},
		{"zero width", 0, 50, 0},
		{"single pixel", 1, 1, 0},
		{"header only", 11, 1, 0},
		{"two bytes", 16, 1, 2},
		{"rounds down", 17, 1, 2},
		{"clamped to header range", math.MaxUint32, math.MaxUint32, maxCapacity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Capacity(tt.width, tt.height))
		})
	}
}

func TestCapacity_IsPure(t *testing.T) {
	before := Capacity(640, 480)

	img := newCover(20, 20)
	out, err := Embed(img, []byte("hello"))
	require.NoError(t, err)
	_, err = Extract(out)
	require.NoError(t, err)

	assert.Equal(t, before, Capacity(640, 480))
	assert.Equal(t, Capacity(20, 20), CapacityOf(out))
}

func TestEmbedExtract_RoundTrip(t *testing.T) {
	img := newCover(40, 30)
	capacity := CapacityOf(img)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", []byte{}},
		{"one byte", []byte{0xA5}},
		{"text", []byte("the quick brown fox")},
		{"random", randomBytes(t, 200)},
		{"exact capacity", randomBytes(t, capacity)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Embed(img, tt.payload)
			require.NoError(t, err)

			got, err := Extract(out)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(tt.payload, got), "payload mismatch")
		})
	}
}

func TestEmbed_CapacityExceededLeavesInputUntouched(t *testing.T) {
	img := newCover(10, 10)
	original := append([]byte(nil), img.Pix...)
	capacity := CapacityOf(img)

	out, err := Embed(img, make([]byte, capacity+1))
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	var capErr *CapacityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, capacity, capErr.Capacity)
	assert.Equal(t, capacity+1, capErr.Requested)

	assert.Equal(t, original, img.Pix)
}

func TestEmbed_DoesNotMutateInput(t *testing.T) {
	img := newCover(10, 10)
	original := append([]byte(nil), img.Pix...)

	_, err := Embed(img, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, original, img.Pix)
}

func TestEmbed_TinyImages(t *testing.T) {
	t.Run("zero by zero rejects empty payload", func(t *testing.T) {
		_, err := Embed(image.NewNRGBA(image.Rect(0, 0, 0, 0)), nil)
		assert.ErrorIs(t, err, ErrCapacityExceeded)
	})

	t.Run("zero by zero rejects data", func(t *testing.T) {
		_, err := Embed(image.NewNRGBA(image.Rect(0, 0, 0, 0)), []byte{1})
		assert.ErrorIs(t, err, ErrCapacityExceeded)
	})

	t.Run("header-sized image holds empty payload", func(t *testing.T) {
		img := newCover(11, 1)
		out, err := Embed(img, []byte{})
		require.NoError(t, err)

		got, err := Extract(out)
		require.NoError(t, err)
		assert.Empty(t, got)

		_, err = Embed(img, []byte{1})
		assert.ErrorIs(t, err, ErrCapacityExceeded)
	})
}

func TestEmbed_BitIsolation(t *testing.T) {
	img := newCover(32, 32)
	payload := randomBytes(t, CapacityOf(img))

	out, err := Embed(img, payload)
	require.NoError(t, err)
	require.Equal(t, len(img.Pix), len(out.Pix))

	for i := range img.Pix {
		if i%4 == 3 {
			assert.Equal(t, img.Pix[i], out.Pix[i], "alpha changed at %d", i)
			continue
		}
		assert.Equal(t, img.Pix[i]&0xFE, out.Pix[i]&0xFE, "high bits changed at %d", i)
	}
}

func TestEmbed_StopsAfterLastBit(t *testing.T) {
	img := newCover(20, 20)
	out, err := Embed(img, []byte{0xFF})
	require.NoError(t, err)

	// 40 bits cover pixels 0..13 (pixel 13 only on R)
	lastTouched := 13*4 + 0
	assert.Equal(t, img.Pix[lastTouched+1:], out.Pix[lastTouched+1:])
}

func TestEmbed_TraversalOrder(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 5, 4))

	out, err := Embed(img, []byte{0xFF})
	require.NoError(t, err)

	// header 00 00 00 01: only bit 31 is set -> pixel 10 (x=0, y=2), G
	// payload 0xFF: bits 32..39 -> pixel 10 B, pixels 11 and 12 RGB, pixel 13 R
	set := map[[3]int]bool{
		{0, 2, 1}: true, {0, 2, 2}: true,
		{1, 2, 0}: true, {1, 2, 1}: true, {1, 2, 2}: true,
		{2, 2, 0}: true, {2, 2, 1}: true, {2, 2, 2}: true,
		{3, 2, 0}: true,
	}

	for y := 0; y < 4; y++ {
		for x := 0; x < 5; x++ {
			for c := 0; c < 4; c++ {
				want := uint8(0)
				if set[[3]int{x, y, c}] {
					want = 1
				}
				assert.Equal(t, want, out.Pix[out.PixOffset(x, y)+c], "pixel (%d,%d) channel %d", x, y, c)
			}
		}
	}
}

func TestEmbedExtract_OffsetRectangle(t *testing.T) {
	parent := newCover(30, 30)
	sub := parent.SubImage(image.Rect(5, 7, 25, 27)).(*image.NRGBA)

	out, err := Embed(sub, []byte("offset"))
	require.NoError(t, err)
	assert.Equal(t, sub.Rect, out.Rect)

	got, err := Extract(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("offset"), got)
}

func TestExtract_HeaderBoundary(t *testing.T) {
	t.Run("too small for header", func(t *testing.T) {
		_, err := Extract(newCover(2, 2))
		assert.ErrorIs(t, err, ErrInvalidLengthHeader)
	})

	t.Run("all ones claims too much", func(t *testing.T) {
		img := image.NewNRGBA(image.Rect(0, 0, 20, 20))
		for i := range img.Pix {
			img.Pix[i] = 0xFF
		}
		_, err := Extract(img)
		assert.ErrorIs(t, err, ErrInvalidLengthHeader)
	})

	t.Run("all zeros yields empty payload", func(t *testing.T) {
		got, err := Extract(image.NewNRGBA(image.Rect(0, 0, 20, 20)))
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("arbitrary cover never panics", func(t *testing.T) {
		for size := 0; size < 40; size++ {
			assert.NotPanics(t, func() { _, _ = Extract(newCover(size, size)) })
		}
	})
}

func TestAnalyze(t *testing.T) {
	t.Run("blank image", func(t *testing.T) {
		stats := Analyze(image.NewNRGBA(image.Rect(0, 0, 10, 10)))
		assert.Equal(t, 300, stats.Zeros)
		assert.Equal(t, 0, stats.Ones)
		assert.Equal(t, 100.0, stats.ZeroRatio())
		assert.Zero(t, stats.Entropy)
		assert.False(t, stats.LooksEncrypted())
	})

	t.Run("random payload", func(t *testing.T) {
		img := image.NewNRGBA(image.Rect(0, 0, 100, 100))
		out, err := Embed(img, randomBytes(t, CapacityOf(img)))
		require.NoError(t, err)

		stats := Analyze(out)
		assert.True(t, stats.LooksEncrypted(), "zero ratio %.2f", stats.ZeroRatio())
		assert.Greater(t, stats.Entropy, 7.5)
		assert.Equal(t, 3746, stats.Capacity)
	})

	t.Run("empty image", func(t *testing.T) {
		stats := Analyze(image.NewNRGBA(image.Rect(0, 0, 0, 0)))
		assert.Zero(t, stats.ZeroRatio())
	})
}
