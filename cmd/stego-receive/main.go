package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"github.com/faanross/simulacra_lsb/internal/courier"
	"github.com/faanross/simulacra_lsb/internal/decoder"
	"github.com/faanross/simulacra_lsb/internal/logging"
	"github.com/faanross/simulacra_lsb/internal/scrypto"
	"github.com/rs/zerolog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

// saveImage writes a retrieved image, keeping the extension its format implies
func saveImage(dir, msgID string, data []byte) (string, error) {
	ext := ".png"
	if len(data) >= 2 && string(data[:2]) == "BM" {
		ext = ".bmp"
	}
	path := filepath.Join(dir, "received_"+msgID+ext)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save: %w", err)
	}
	return path, nil
}

// decodeAndSave extracts the hidden message and writes it next to the image
func decodeAndSave(dir, msgID string, data []byte, passphrase string, logger zerolog.Logger) error {
	stegDecoder := decoder.NewSecureStegoDecoder(decoder.WithLogger(logger))

	message, err := stegDecoder.DecodeImage(data, passphrase)
	if errors.Is(err, scrypto.ErrAuthenticationFailed) {
		return errors.New("wrong password or tampered image")
	}
	if err != nil {
		return err
	}

	path := filepath.Join(dir, "decoded_"+msgID+".txt")
	if err := os.WriteFile(path, []byte(message), 0644); err != nil {
		return err
	}
	fmt.Printf("✅ Decoded message saved to: %s\n", path)
	return nil
}

func main() {
	server := flag.String("server", "localhost:5353", "DNS server")
	domain := flag.String("domain", "covert.example.com", "Domain")
	msgID := flag.String("msg", "", "Message ID to retrieve")
	poll := flag.Bool("poll", false, "Poll for new messages")
	clientID := flag.String("client", "receiver1", "Client ID for polling")
	interval := flag.Duration("interval", 5*time.Second, "Poll interval")
	decode := flag.Bool("decode", false, "Decode after retrieval")
	password := flag.String("password", "", "Password for decoding (env "+scrypto.PASSPHRASE_ENV+" or prompt if not provided)")
	output := flag.String("output", ".", "Output directory")
	concurrency := flag.Int("concurrency", 4, "Parallel chunk lookups")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger, closer, err := logging.New(logging.Config{Level: *logLevel})
	if err != nil {
		fatal("Logger setup failed: %v", err)
	}
	defer closer.Close()

	if *poll == (*msgID != "") {
		fmt.Println("Please specify -msg ID or -poll")
		flag.Usage()
		os.Exit(2)
	}

	var passphrase string
	if *decode {
		if err := scrypto.LoadEnv(".env"); err != nil {
			logger.Warn().Err(err).Msg("ignoring .env")
		}
		passphrase, err = scrypto.ResolvePassphrase(*password, 0, false)
		if err != nil {
			fatal("Password error: %v", err)
		}
	}

	fmt.Println("\n📡 DNS COVERT CHANNEL RECEIVER")

	receiver := courier.NewReceiver(*server, *domain,
		courier.WithConcurrency(*concurrency),
		courier.WithReceiverLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *poll {
		fmt.Printf("\n👁️ POLLING MODE\n")
		fmt.Printf("   Client ID: %s\n", *clientID)
		fmt.Printf("   Poll interval: %v\n", *interval)
		fmt.Println("\nWaiting for messages... (Press Ctrl+C to stop)")

		err := receiver.Watch(ctx, *clientID, *interval, func(id string, data []byte) error {
			fmt.Printf("\n🔔 New message: %s (%d bytes)\n", id, len(data))
			path, err := saveImage(*output, id, data)
			if err != nil {
				return err
			}
			fmt.Printf("💾 Saved to: %s\n", path)

			if *decode {
				if err := decodeAndSave(*output, id, data, passphrase, logger); err != nil {
					logger.Error().Err(err).Str("msg_id", id).Msg("decode failed")
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			fatal("Polling stopped: %v", err)
		}
		fmt.Println("\n🛑 Stopped polling")
		return
	}

	fmt.Printf("\n📥 RETRIEVING MESSAGE: %s\n", *msgID)
	fmt.Printf("   Server: %s\n", *server)
	fmt.Printf("   Domain: %s\n", *domain)

	startTime := time.Now()

	data, manifest, err := receiver.Fetch(ctx, *msgID)
	if err != nil {
		fatal("Retrieval failed: %v", err)
	}

	imagePath, err := saveImage(*output, *msgID, data)
	if err != nil {
		fatal("%v", err)
	}

	elapsed := time.Since(startTime)

	fmt.Printf("\n📊 RETRIEVAL SUMMARY:\n")
	fmt.Printf("   Message ID: %s\n", *msgID)
	fmt.Printf("   Chunks: %d\n", manifest.TotalChunks)
	fmt.Printf("   Checksum: %s ✅\n", manifest.Checksum)
	fmt.Printf("   Size: %d bytes\n", len(data))
	fmt.Printf("   Time: %v\n", elapsed)
	fmt.Printf("   Rate: %.2f KB/s\n", float64(len(data))/1024/elapsed.Seconds())
	fmt.Printf("   Saved to: %s\n", imagePath)

	if *decode {
		fmt.Printf("\n4️⃣ Decoding steganographic image...\n")
		if err := decodeAndSave(*output, *msgID, data, passphrase, logger); err != nil {
			fatal("Decode failed: %v", err)
		}
	}

	fmt.Println("\n✅ RETRIEVAL COMPLETE!")
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "❌ "+format+"\n", args...)
	os.Exit(1)
}
