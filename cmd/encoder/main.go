package main

import (
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"github.com/faanross/simulacra_lsb/internal/encoder"
	"github.com/faanross/simulacra_lsb/internal/imgcodec"
	"github.com/faanross/simulacra_lsb/internal/logging"
	"github.com/faanross/simulacra_lsb/internal/lsb"
	"github.com/faanross/simulacra_lsb/internal/scrypto"
	"github.com/faanross/simulacra_lsb/internal/spec"
	"image"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

func main() {
	// Command line arguments
	coverFile := flag.String("cover", "", "Cover image (PNG or BMP); a noise cover is generated if empty")
	inputFile := flag.String("input", "", "Path to input text file")
	messageText := flag.String("message", "", "Message text (instead of -input)")
	outputFile := flag.String("output", "secure_stego.png", "Output image file")
	width := flag.Int("width", spec.DEFAULT_WIDTH, "Width of a generated cover")
	password := flag.String("password", "", "Password (env "+scrypto.PASSPHRASE_ENV+" or prompt if not provided)")
	analyze := flag.Bool("analyze", false, "Show security analysis")
	capacityOnly := flag.Bool("capacity", false, "Print the cover's message capacity and exit")
	logLevel := flag.String("log-level", "warn", "Log level")

	flag.Parse()

	logger, closer, err := logging.New(logging.Config{Level: *logLevel})
	if err != nil {
		fatal("Logger setup failed: %v", err)
	}
	defer closer.Close()

	if err := scrypto.LoadEnv(".env"); err != nil {
		logger.Warn().Err(err).Msg("ignoring .env")
	}

	fmt.Println("\n🔐 Secure Steganography Encoder")
	fmt.Println("=" + strings.Repeat("=", 40))

	var (
		cover       *image.NRGBA
		coverFormat imgcodec.Format
	)
	if *coverFile != "" {
		data, err := os.ReadFile(*coverFile)
		if err != nil {
			fatal("Error reading cover: %v", err)
		}
		cover, coverFormat, err = imgcodec.Decode(data)
		if err != nil {
			fatal("Error decoding cover: %v", err)
		}
		b := cover.Bounds()
		fmt.Printf("\n📷 Cover: %s (%s, %dx%d)\n", *coverFile, coverFormat, b.Dx(), b.Dy())
	}

	if *capacityOnly {
		if cover == nil {
			fatal("-capacity needs a -cover image")
		}
		capacity := lsb.CapacityOf(cover)
		fmt.Printf("\n📦 Capacity: %d bytes embedded\n", capacity)
		fmt.Printf("   Max message: %d bytes\n", max(capacity-spec.CONTAINER_OVERHEAD, 0))
		return
	}

	message, err := readMessage(*inputFile, *messageText)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("\n📄 Message: %d bytes\n", len(message))

	format, err := outputFormat(*outputFile, coverFormat)
	if err != nil {
		fatal("Cannot pick output format: %v", err)
	}

	if cover == nil {
		cover, err = encoder.GenerateCover(*width, encoder.RequiredPayloadSize(len(message)), rand.Reader)
		if err != nil {
			fatal("Cover generation failed: %v", err)
		}
		b := cover.Bounds()
		fmt.Printf("\n🎨 Generated noise cover: %dx%d\n", b.Dx(), b.Dy())
	}

	pass, err := scrypto.ResolvePassphrase(*password, scrypto.MIN_PASSPHRASE, true)
	if err != nil {
		fatal("Password error: %v", err)
	}

	stegoEncoder := encoder.NewSecureStegoEncoder(encoder.WithLogger(logger))

	stego, err := stegoEncoder.EncodeCover(cover, message, pass)
	var capErr *lsb.CapacityError
	if errors.As(err, &capErr) {
		fatal("Message too large: cover holds %d bytes, %d needed", capErr.Capacity, capErr.Requested)
	}
	if err != nil {
		fatal("Encoding failed: %v", err)
	}

	if *analyze {
		encoder.AnalyzeImageSecurity(os.Stdout, stego)
	}

	out, err := imgcodec.Encode(stego, format)
	if err != nil {
		fatal("Image encoding failed: %v", err)
	}
	if err := os.WriteFile(*outputFile, out, 0644); err != nil {
		fatal("Cannot write output file: %v", err)
	}

	logger.Debug().Str("output", *outputFile).Str("format", string(format)).Int("bytes", len(out)).Msg("stego image written")

	fmt.Printf("\n✅ Secure steganography complete!\n")
	fmt.Printf("   Output: %s (%s)\n", *outputFile, format)
	fmt.Printf("   Security: AES-256-GCM + PBKDF2-%d\n", spec.PBKDF2_ITERS)
	fmt.Printf("\n🔓 To decode: Use the secure decoder with the same password\n")
}

// outputFormat picks the format from the output extension. Without an
// extension the cover's format is kept.
func outputFormat(outputPath string, coverFormat imgcodec.Format) (imgcodec.Format, error) {
	ext := filepath.Ext(outputPath)
	if ext == "" && coverFormat != "" {
		return coverFormat, nil
	}
	return imgcodec.ParseFormat(ext)
}

func readMessage(inputFile, text string) (string, error) {
	switch {
	case inputFile != "" && text != "":
		return "", errors.New("use either -input or -message, not both")
	case text != "":
		return text, nil
	case inputFile != "":
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return "", fmt.Errorf("error reading file: %w", err)
		}
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%s is not UTF-8 text", inputFile)
		}
		return string(data), nil
	}
	return "", errors.New("please provide a message with -input or -message")
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "❌ "+format+"\n", args...)
	os.Exit(1)
}
