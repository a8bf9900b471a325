package chunker

import (
	"errors"
	"fmt"
	"github.com/miekg/dns"
	"hash/crc32"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	DEFAULT_SUBDOMAIN = "data"
	DEFAULT_TTL       = 300 // seconds

	MAX_LABEL_SIZE = 63
)

var (
	ErrInvalidManifest = errors.New("invalid manifest")
	ErrInvalidName     = errors.New("invalid record name")
)

// RecordKind tells manifest and chunk records apart
type RecordKind int

const (
	KindUnknown RecordKind = iota
	KindManifest
	KindChunk
)

// RecordLabel is the parsed first label of a record name
type RecordLabel struct {
	Kind      RecordKind
	Sequence  int // chunks only
	MessageID string
}

// DNSEncoder maps chunked messages onto TXT records under one domain
type DNSEncoder struct {
	domain    string
	subdomain string
	ttl       uint32
}

// NewDNSEncoder creates an encoder for DNS transport
func NewDNSEncoder(domain string) *DNSEncoder {
	return &DNSEncoder{
		domain:    normalizeDomain(domain),
		subdomain: DEFAULT_SUBDOMAIN,
		ttl:       DEFAULT_TTL,
	}
}

// Domain returns the zone the encoder writes names under
func (de *DNSEncoder) Domain() string {
	return de.domain
}

// DNSManifest describes a complete message for DNS transport
type DNSManifest struct {
	MessageID   string    `json:"id"`
	TotalChunks int       `json:"total"`
	Timestamp   time.Time `json:"timestamp"`
	Checksum    string    `json:"checksum"` // CRC32 of the whole message
	ChunkNames  []string  `json:"chunks"`
	Domain      string    `json:"domain"`
}

// Value renders the manifest TXT value: TOTAL:CHECKSUM:TIMESTAMP
func (m *DNSManifest) Value() string {
	return fmt.Sprintf("%d:%s:%d", m.TotalChunks, m.Checksum, m.Timestamp.Unix())
}

// Verify compares data against the manifest checksum
func (m *DNSManifest) Verify(data []byte) error {
	if got := Checksum(data); got != m.Checksum {
		return fmt.Errorf("%w: message expected %s, got %s", ErrChecksumMismatch, m.Checksum, got)
	}
	return nil
}

// ParseManifest reads a TOTAL:CHECKSUM:TIMESTAMP value
func ParseManifest(messageID, value string) (*DNSManifest, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidManifest, value)
	}

	total, err := strconv.Atoi(parts[0])
	if err != nil || total <= 0 || total > math.MaxUint16 {
		return nil, fmt.Errorf("%w: bad chunk count %q", ErrInvalidManifest, parts[0])
	}

	unix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q", ErrInvalidManifest, parts[2])
	}

	return &DNSManifest{
		MessageID:   messageID,
		TotalChunks: total,
		Checksum:    parts[1],
		Timestamp:   time.Unix(unix, 0),
	}, nil
}

// Checksum is the manifest checksum of a whole message
func Checksum(data []byte) string {
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE(data))
}

// DNSRecord represents a DNS TXT record
type DNSRecord struct {
	Name  string // fully qualified, without the trailing dot
	Type  string
	TTL   uint32
	Value string
}

// RR converts the record to a miekg/dns TXT resource record
func (r DNSRecord) RR() *dns.TXT {
	return &dns.TXT{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(r.Name),
			Rrtype: dns.TypeTXT,
			Class:  dns.ClassINET,
			Ttl:    r.TTL,
		},
		Txt: []string{r.Value},
	}
}

// ManifestName is m-{id}.{subdomain}.{domain}
func (de *DNSEncoder) ManifestName(msgID string) string {
	return fmt.Sprintf("m-%s.%s.%s", msgID, de.subdomain, de.domain)
}

// ChunkName is c-{seq}-{id}.{subdomain}.{domain}
func (de *DNSEncoder) ChunkName(seq int, msgID string) string {
	return fmt.Sprintf("c-%d-%s.%s.%s", seq, msgID, de.subdomain, de.domain)
}

// EncodeToDNS converts chunks into a manifest record followed by one TXT record per chunk
func (de *DNSEncoder) EncodeToDNS(msg *Message) (*DNSManifest, []DNSRecord, error) {
	msgID := msg.ShortID()

	manifest := &DNSManifest{
		MessageID:   msgID,
		TotalChunks: len(msg.Chunks),
		Timestamp:   msg.CreatedAt,
		Checksum:    Checksum(msg.Data),
		ChunkNames:  make([]string, 0, len(msg.Chunks)),
		Domain:      de.domain,
	}

	records := make([]DNSRecord, 0, len(msg.Chunks)+1)
	records = append(records, DNSRecord{
		Name:  de.ManifestName(msgID),
		Type:  "TXT",
		TTL:   de.ttl,
		Value: manifest.Value(),
	})

	for _, chunk := range msg.Chunks {
		if len(chunk.Encoded) > MAX_DNS_STRING_SIZE {
			return nil, nil, fmt.Errorf("%w: chunk %d encodes to %d characters",
				ErrInvalidChunk, chunk.Metadata.Sequence, len(chunk.Encoded))
		}

		name := de.ChunkName(int(chunk.Metadata.Sequence), msgID)
		records = append(records, DNSRecord{
			Name:  name,
			Type:  "TXT",
			TTL:   de.ttl,
			Value: chunk.Encoded,
		})
		manifest.ChunkNames = append(manifest.ChunkNames, name)
	}

	return manifest, records, nil
}

// ParseLabel classifies a record name by its first label
func ParseLabel(name string) (RecordLabel, error) {
	label, _, _ := strings.Cut(strings.ToLower(strings.TrimSuffix(name, ".")), ".")
	if len(label) > MAX_LABEL_SIZE {
		return RecordLabel{}, fmt.Errorf("%w: label longer than %d", ErrInvalidName, MAX_LABEL_SIZE)
	}

	switch {
	case strings.HasPrefix(label, "m-"):
		id := strings.TrimPrefix(label, "m-")
		if !isDNSLabel(id) {
			return RecordLabel{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
		return RecordLabel{Kind: KindManifest, MessageID: id}, nil

	case strings.HasPrefix(label, "c-"):
		seqPart, id, ok := strings.Cut(strings.TrimPrefix(label, "c-"), "-")
		if !ok || !isDNSLabel(id) {
			return RecordLabel{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
		seq, err := strconv.Atoi(seqPart)
		if err != nil || seq < 0 {
			return RecordLabel{}, fmt.Errorf("%w: bad sequence in %q", ErrInvalidName, name)
		}
		return RecordLabel{Kind: KindChunk, Sequence: seq, MessageID: id}, nil
	}

	return RecordLabel{Kind: KindUnknown}, nil
}

// ParseFromDNS splits records into chunks and the manifest.
// Records that do not decode are skipped and show up as missing chunks.
func (de *DNSEncoder) ParseFromDNS(records []DNSRecord) ([]Chunk, *DNSManifest, error) {
	var manifest *DNSManifest
	chunks := make([]Chunk, 0, len(records))
	decoder := &Chunker{config: ChunkerConfig{Encoding: ENCODE_BASE32}}

	for _, record := range records {
		label, err := ParseLabel(record.Name)
		if err != nil {
			continue
		}

		switch label.Kind {
		case KindManifest:
			m, err := ParseManifest(label.MessageID, record.Value)
			if err != nil {
				return nil, nil, err
			}
			m.Domain = de.domain
			manifest = m
		case KindChunk:
			chunk, err := decoder.DecodeChunk(record.Value)
			if err != nil {
				continue
			}
			chunks = append(chunks, *chunk)
		}
	}

	if manifest == nil && len(chunks) == 0 {
		return nil, nil, ErrNoChunks
	}
	return chunks, manifest, nil
}

// Reassemble rebuilds the message carried by records and checks it against the manifest
func (de *DNSEncoder) Reassemble(records []DNSRecord) ([]byte, *DNSManifest, error) {
	chunks, manifest, err := de.ParseFromDNS(records)
	if err != nil {
		return nil, nil, err
	}

	decoder := &Chunker{config: ChunkerConfig{Encoding: ENCODE_BASE32}}
	data, err := decoder.ReassembleMessage(chunks)
	if err != nil {
		return nil, manifest, err
	}

	if manifest != nil {
		if err := manifest.Verify(data); err != nil {
			return nil, manifest, err
		}
	}
	return data, manifest, nil
}

// GenerateZoneFile writes a BIND-compatible zone file
func (de *DNSEncoder) GenerateZoneFile(w io.Writer, records []DNSRecord) error {
	header := fmt.Sprintf("; simulacra zone for %s\n; Generated: %s\n; Records: %d\n\n",
		de.domain, time.Now().UTC().Format(time.RFC3339), len(records))
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}

	for _, record := range records {
		if _, err := fmt.Fprintln(w, record.RR().String()); err != nil {
			return err
		}
	}
	return nil
}

// ParseZoneFile reads TXT records from a zone file. Other record types are ignored.
func ParseZoneFile(r io.Reader) ([]DNSRecord, error) {
	zp := dns.NewZoneParser(r, "", "")

	var records []DNSRecord
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		txt, isTXT := rr.(*dns.TXT)
		if !isTXT {
			continue
		}
		records = append(records, DNSRecord{
			Name:  strings.TrimSuffix(txt.Hdr.Name, "."),
			Type:  "TXT",
			TTL:   txt.Hdr.Ttl,
			Value: strings.Join(txt.Txt, ""),
		})
	}

	if err := zp.Err(); err != nil {
		return nil, fmt.Errorf("zone parse failed: %w", err)
	}
	return records, nil
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSuffix(domain, "."))
}

// isDNSLabel reports a non-empty a-z, 0-9, hyphen label without edge hyphens
func isDNSLabel(s string) bool {
	if s == "" || len(s) > MAX_LABEL_SIZE || s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}
	for i := 0; i < len(s); i++ {
		b := s[i]
		if !(b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '-') {
			return false
		}
	}
	return true
}
