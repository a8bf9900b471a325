package main

import (
	"errors"
	"flag"
	"fmt"
	"github.com/faanross/simulacra_lsb/internal/decoder"
	"github.com/faanross/simulacra_lsb/internal/imgcodec"
	"github.com/faanross/simulacra_lsb/internal/logging"
	"github.com/faanross/simulacra_lsb/internal/scrypto"
	"os"
	"strings"
)

func main() {
	// Command line arguments
	inputFile := flag.String("input", "", "Path to stego image (PNG or BMP)")
	outputFile := flag.String("output", "", "Save extracted message to file")
	password := flag.String("password", "", "Password (env "+scrypto.PASSPHRASE_ENV+" or prompt if not provided)")
	analyze := flag.Bool("analyze", false, "Perform security analysis only")
	tryList := flag.String("trylist", "", "Comma-separated passwords to try")
	verbose := flag.Bool("verbose", false, "Show full extracted message")
	logLevel := flag.String("log-level", "warn", "Log level")

	flag.Parse()

	logger, closer, err := logging.New(logging.Config{Level: *logLevel})
	if err != nil {
		fatal("Logger setup failed: %v", err)
	}
	defer closer.Close()

	if *inputFile == "" {
		fatal("Please provide input image with -input flag")
	}
	if err := scrypto.LoadEnv(".env"); err != nil {
		logger.Warn().Err(err).Msg("ignoring .env")
	}

	fmt.Println("\n🔓 Secure Steganography Decoder")
	fmt.Println("=" + strings.Repeat("=", 40))

	data, err := os.ReadFile(*inputFile)
	if err != nil {
		fatal("Error opening file: %v", err)
	}

	img, format, err := imgcodec.Decode(data)
	if err != nil {
		fatal("Error decoding image: %v", err)
	}

	bounds := img.Bounds()
	fmt.Printf("\n📷 Image loaded:\n")
	fmt.Printf("   File: %s\n", *inputFile)
	fmt.Printf("   Format: %s\n", format)
	fmt.Printf("   Dimensions: %dx%d\n", bounds.Dx(), bounds.Dy())

	if *analyze {
		decoder.AnalyzeSecurity(os.Stdout, img)
		return
	}

	stegDecoder := decoder.NewSecureStegoDecoder(decoder.WithLogger(logger))

	var result *decoder.ExtractedMessage
	if *tryList != "" {
		candidates := strings.Split(*tryList, ",")
		fmt.Printf("\n🔑 Trying %d passwords...\n", len(candidates))

		var idx int
		result, idx, err = stegDecoder.TryPassphrases(img, candidates)
		if errors.Is(err, decoder.ErrNoPassphraseMatched) {
			fatal("None of the %d passwords worked", len(candidates))
		}
		if err != nil {
			fatal("Extraction failed: %v", err)
		}
		fmt.Printf("   ✅ Password #%d matched\n", idx+1)
	} else {
		pass, err := scrypto.ResolvePassphrase(*password, 0, false)
		if err != nil {
			fatal("Password error: %v", err)
		}

		result, err = stegDecoder.Decode(img, pass)
		if errors.Is(err, scrypto.ErrAuthenticationFailed) {
			fatal("Decryption failed: wrong password or tampered image")
		}
		if err != nil {
			fatal("Decryption failed: %v", err)
		}
	}

	fmt.Printf("\n✅ MESSAGE SUCCESSFULLY DECRYPTED\n")
	fmt.Println("=" + strings.Repeat("=", 40))

	fmt.Printf("\n📊 Extraction Statistics:\n")
	fmt.Printf("   Payload size: %d bytes\n", result.PayloadSize)
	fmt.Printf("   Encrypted size: %d bytes\n", result.EncryptedSize)
	fmt.Printf("   Decrypted size: %d bytes\n", result.DecryptedSize)
	fmt.Printf("   Key fingerprint: %s\n", result.KeyFingerprint)

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("📝 DECRYPTED MESSAGE:")
	fmt.Println(strings.Repeat("=", 60))

	message := []rune(result.Message)
	if *verbose || len(message) <= 500 {
		fmt.Println(result.Message)
	} else {
		// Show preview for long messages
		fmt.Printf("%s\n... [%d more characters] ...\n%s\n",
			string(message[:200]),
			len(message)-400,
			string(message[len(message)-200:]))
		fmt.Printf("\n(Use -verbose flag to see full message)\n")
	}

	fmt.Println(strings.Repeat("=", 60))

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, []byte(result.Message), 0644); err != nil {
			fatal("Error saving output: %v", err)
		}
		fmt.Printf("\n💾 Message saved to: %s\n", *outputFile)
	}

	fmt.Println("\n✅ Secure decoding complete!")
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "❌ "+format+"\n", args...)
	os.Exit(1)
}
