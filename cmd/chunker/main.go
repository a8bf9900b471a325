package main

import (
	"flag"
	"fmt"
	"github.com/faanross/simulacra_lsb/internal/chunker"
	"os"
	"strings"
	"time"
)

func main() {
	inputFile := flag.String("input", "", "Input file to chunk (image or data)")
	encoding := flag.String("encoding", chunker.ENCODE_BASE32, "Encoding type (hex or base32)")
	domain := flag.String("domain", "covert.example.com", "Domain for record names")
	simulate := flag.Bool("simulate", false, "Print the DNS zone for the chunks")
	reassemble := flag.String("reassemble", "", "Zone file to reassemble instead of chunking")
	output := flag.String("output", "reassembled.bin", "Output file for -reassemble")
	verbose := flag.Bool("verbose", false, "Show detailed output")
	flag.Parse()

	fmt.Println("🧩 DNS CHUNKING INSPECTOR")

	enc := chunker.NewDNSEncoder(*domain)

	if *reassemble != "" {
		if err := reassembleZone(enc, *reassemble, *output); err != nil {
			fatal("%v", err)
		}
		return
	}

	if *inputFile == "" {
		fatal("Please provide -input or -reassemble")
	}

	data, err := os.ReadFile(*inputFile)
	if err != nil {
		fatal("Error reading file: %v", err)
	}

	fmt.Printf("\n📁 Input file: %s\n", *inputFile)
	fmt.Printf("📊 File size: %d bytes\n", len(data))

	if err := analyze(enc, data, *encoding, *simulate, *verbose); err != nil {
		fatal("%v", err)
	}
}

func analyze(enc *chunker.DNSEncoder, data []byte, encoding string, simulate, verbose bool) error {
	chk, err := chunker.NewChunker(chunker.ChunkerConfig{Encoding: encoding})
	if err != nil {
		return err
	}

	msg, err := chk.ChunkMessage(data)
	if err != nil {
		return fmt.Errorf("chunking failed: %w", err)
	}
	stats := chk.GetStats()

	totalEncoded := 0
	for _, chunk := range msg.Chunks {
		totalEncoded += len(chunk.Encoded)
	}

	fmt.Printf("\n📈 Chunking Statistics:\n")
	fmt.Printf("   Encoding method: %s\n", strings.ToUpper(encoding))
	fmt.Printf("   Payload per chunk: %d bytes\n", chunker.PayloadSize(encoding))
	fmt.Printf("   Chunks created: %d\n", len(msg.Chunks))
	fmt.Printf("   Processing time: %v\n", stats.LastChunkingTime)
	fmt.Printf("   Message ID: %s\n", msg.ShortID())

	fmt.Printf("\n📊 Efficiency Analysis:\n")
	fmt.Printf("   Original size: %d bytes\n", len(data))
	fmt.Printf("   Total encoded: %d bytes\n", totalEncoded)
	fmt.Printf("   Efficiency: %.1f%%\n", float64(len(data))/float64(totalEncoded)*100)
	fmt.Printf("   Expansion factor: %.2fx\n", float64(totalEncoded)/float64(len(data)))

	fmt.Printf("\n🌐 DNS Transport Estimates:\n")
	fmt.Printf("   DNS TXT records needed: %d (+1 manifest)\n", len(msg.Chunks))
	for _, qps := range []int{10, 50, 100} {
		fmt.Printf("   @ %d queries/sec: %.1f seconds\n", qps, float64(len(msg.Chunks)+1)/float64(qps))
	}

	if verbose {
		for i := 0; i < 3 && i < len(msg.Chunks); i++ {
			chunk := msg.Chunks[i]
			fmt.Printf("\n📦 Chunk %d/%d:\n", i+1, len(msg.Chunks))
			fmt.Printf("   Sequence: %d\n", chunk.Metadata.Sequence)
			fmt.Printf("   Payload: %d bytes\n", len(chunk.Payload))
			fmt.Printf("   Encoded: %d characters\n", len(chunk.Encoded))
			fmt.Printf("   Checksum: %08x\n", chunk.Metadata.Checksum)
			if err := chk.ValidateChunk(&chunk); err != nil {
				fmt.Printf("   ❌ Invalid: %v\n", err)
			} else {
				fmt.Printf("   ✅ Valid\n")
			}
		}
	}

	if simulate {
		_, records, err := enc.EncodeToDNS(msg)
		if err != nil {
			return err
		}

		fmt.Println("\n🌐 Simulated DNS Zone File:")
		fmt.Println(strings.Repeat("-", 60))
		if err := enc.GenerateZoneFile(os.Stdout, records); err != nil {
			return err
		}
		fmt.Println(strings.Repeat("-", 60))

		fmt.Println("\n📋 DNS Query Commands:")
		fmt.Printf("   dig @your-dns-server %s TXT\n", records[0].Name)
		fmt.Printf("   dig @your-dns-server %s TXT\n", enc.ChunkName(0, msg.ShortID()))
	}
	return nil
}

func reassembleZone(enc *chunker.DNSEncoder, zonePath, output string) error {
	fmt.Println("\n🔄 REASSEMBLY MODE")
	fmt.Println(strings.Repeat("-", 60))

	f, err := os.Open(zonePath)
	if err != nil {
		return fmt.Errorf("error reading zone file: %w", err)
	}
	defer f.Close()

	records, err := chunker.ParseZoneFile(f)
	if err != nil {
		return err
	}
	fmt.Printf("\n📦 Loaded %d records from %s\n", len(records), zonePath)

	start := time.Now()
	data, manifest, err := enc.Reassemble(records)
	if err != nil {
		return fmt.Errorf("reassembly failed: %w", err)
	}

	fmt.Printf("✅ Successfully reassembled %d bytes in %v\n", len(data), time.Since(start))
	if manifest != nil {
		fmt.Printf("   Manifest checksum %s verified\n", manifest.Checksum)
	} else {
		fmt.Printf("   ⚠️  No manifest record, checksum not verified\n")
	}

	if err := os.WriteFile(output, data, 0644); err != nil {
		return fmt.Errorf("error saving file: %w", err)
	}
	fmt.Printf("💾 Saved reassembled file: %s\n", output)
	return nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "❌ "+format+"\n", args...)
	os.Exit(1)
}
