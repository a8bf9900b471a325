package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"github.com/faanross/simulacra_lsb/internal/chunker"
	"github.com/faanross/simulacra_lsb/internal/courier"
	"github.com/faanross/simulacra_lsb/internal/imgcodec"
	"github.com/faanross/simulacra_lsb/internal/logging"
	"os"
	"time"
)

// loadImage chunks a stego image and maps it to DNS records
func loadImage(path string, enc *chunker.DNSEncoder, encoding string) (*chunker.DNSManifest, []chunker.DNSRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read image: %w", err)
	}

	// Only lossless images survive the trip intact enough to decode
	if _, _, err := imgcodec.Decode(data); err != nil {
		return nil, nil, err
	}

	chk, err := chunker.NewChunker(chunker.ChunkerConfig{Encoding: encoding})
	if err != nil {
		return nil, nil, err
	}

	msg, err := chk.ChunkMessage(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to chunk: %w", err)
	}

	fmt.Printf("   Size: %d bytes\n", len(data))
	fmt.Printf("   Chunks: %d (%s)\n", len(msg.Chunks), encoding)
	return enc.EncodeToDNS(msg)
}

// loadZone reads records from a zone file written by -zone
func loadZone(path string) (*chunker.DNSManifest, []chunker.DNSRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read zone file: %w", err)
	}
	defer f.Close()

	records, err := chunker.ParseZoneFile(f)
	if err != nil {
		return nil, nil, err
	}

	for _, record := range records {
		label, err := chunker.ParseLabel(record.Name)
		if err != nil || label.Kind != chunker.KindManifest {
			continue
		}
		manifest, err := chunker.ParseManifest(label.MessageID, record.Value)
		if err != nil {
			return nil, nil, err
		}
		return manifest, records, nil
	}
	return nil, nil, errors.New("zone file has no manifest record")
}

func main() {
	api := flag.String("api", "http://localhost:8080", "DNS server HTTP API")
	domain := flag.String("domain", "covert.example.com", "Target domain")
	input := flag.String("input", "", "Stego image to send (PNG or BMP)")
	fromZone := flag.String("from-zone", "", "Upload a zone file written earlier with -zone")
	zoneOut := flag.String("zone", "", "Write a BIND zone file instead of uploading")
	encoding := flag.String("encoding", chunker.ENCODE_BASE32, "Chunk encoding: base32 or hex")
	timeout := flag.Duration("timeout", 30*time.Second, "Upload timeout")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	logger, closer, err := logging.New(logging.Config{Level: *logLevel})
	if err != nil {
		fatal("Logger setup failed: %v", err)
	}
	defer closer.Close()

	if (*input == "") == (*fromZone == "") {
		fatal("Please provide either -input (image) or -from-zone (zone file)")
	}

	fmt.Println("\n🚀 DNS COVERT CHANNEL UPLOADER")

	enc := chunker.NewDNSEncoder(*domain)

	var (
		manifest *chunker.DNSManifest
		records  []chunker.DNSRecord
	)
	if *input != "" {
		fmt.Printf("📷 Loading image: %s\n", *input)
		manifest, records, err = loadImage(*input, enc, *encoding)
	} else {
		fmt.Printf("📄 Loading zone file: %s\n", *fromZone)
		manifest, records, err = loadZone(*fromZone)
	}
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("   Message ID: %s\n", manifest.MessageID)

	if *zoneOut != "" {
		f, err := os.Create(*zoneOut)
		if err != nil {
			fatal("Cannot create zone file: %v", err)
		}
		if err := enc.GenerateZoneFile(f, records); err != nil {
			f.Close()
			fatal("Zone file write failed: %v", err)
		}
		if err := f.Close(); err != nil {
			fatal("Zone file write failed: %v", err)
		}

		fmt.Printf("\n💾 Zone file written: %s (%d records)\n", *zoneOut, len(records))
		fmt.Printf("   Load it with zone: %s in the server config\n", *zoneOut)
		return
	}

	upload, err := courier.BuildUpload(manifest, records)
	if err != nil {
		fatal("%v", err)
	}

	fmt.Printf("\n📤 UPLOADING MESSAGE: %s\n", manifest.MessageID)
	fmt.Printf("   Chunks to upload: %d\n", len(upload.Chunks))
	fmt.Printf("   Server: %s\n", *api)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	uploader := courier.NewUploader(*api, courier.WithUploaderLogger(logger))
	resp, err := uploader.Upload(ctx, upload)
	if err != nil {
		fatal("Upload failed: %v", err)
	}

	fmt.Printf("\n✅ Upload successful!\n")
	fmt.Printf("   Message ID: %s\n", resp.MessageID)
	fmt.Printf("   Chunks uploaded: %d\n", resp.Chunks)

	fmt.Println("\n🎉 Upload complete!")
	fmt.Printf("Receiver should query for message: %s\n", resp.MessageID)
	fmt.Printf("\nExample receiver command:\n")
	fmt.Printf("  stego-receive -domain %s -msg %s\n", *domain, resp.MessageID)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "❌ "+format+"\n", args...)
	os.Exit(1)
}
