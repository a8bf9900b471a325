// Package imgcodec converts image files to and from the NRGBA pixel grid the
// LSB codec works on. Only lossless formats are supported.
package imgcodec

import (
	"bytes"
	"errors"
	"fmt"
	"golang.org/x/image/bmp"
	"image"
	"image/color"
	"image/png"
)

// Format names a supported lossless container
type Format string

const (
	FormatPNG Format = "png"
	FormatBMP Format = "bmp"
)

// ErrImageDecode is returned when input bytes are not a supported image
var ErrImageDecode = errors.New("image decode failed")

// ErrUnsupportedFormat is returned when encoding to an unknown format
var ErrUnsupportedFormat = errors.New("unsupported image format")

// ParseFormat maps a name or file extension ("png", ".BMP") to a Format
func ParseFormat(name string) (Format, error) {
	switch normalize(name) {
	case "png":
		return FormatPNG, nil
	case "bmp":
		return FormatBMP, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

func normalize(name string) string {
	b := []byte(name)
	if len(b) > 0 && b[0] == '.' {
		b = b[1:]
	}
	return string(bytes.ToLower(b))
}

// Decode parses PNG or BMP bytes into an NRGBA grid anchored at (0, 0)
func Decode(data []byte) (*image.NRGBA, Format, error) {
	var (
		img    image.Image
		format Format
		err    error
	)

	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		format = FormatPNG
		img, err = png.Decode(bytes.NewReader(data))
	case bytes.HasPrefix(data, []byte("BM")):
		format = FormatBMP
		img, err = bmp.Decode(bytes.NewReader(data))
	default:
		return nil, "", fmt.Errorf("%w: unrecognized format", ErrImageDecode)
	}

	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", ErrImageDecode, format, err)
	}

	return ToNRGBA(img), format, nil
}

// Encode serializes img in the given format
func Encode(img image.Image, format Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch format {
	case FormatPNG:
		err = png.Encode(&buf, img)
	case FormatBMP:
		err = bmp.Encode(&buf, img)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if err != nil {
		return nil, fmt.Errorf("%s encoding failed: %w", format, err)
	}
	return buf.Bytes(), nil
}

// ToNRGBA copies any image into a fresh non-premultiplied RGBA grid
// whose bounds start at (0, 0)
func ToNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if n, ok := src.(*image.NRGBA); ok {
		rowLen := b.Dx() * 4
		for y := 0; y < b.Dy(); y++ {
			srcOff := n.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+rowLen], n.Pix[srcOff:srcOff+rowLen])
		}
		return dst
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			dst.SetNRGBA(x, y, c)
		}
	}
	return dst
}
