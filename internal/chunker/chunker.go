// Package chunker fragments a byte stream into self-describing chunks small
// enough for a single DNS TXT string, and reassembles them in any order.
//
// Wire format of a chunk before text encoding:
//
//	[MAGIC(4)][MSGID(16)][SEQ(2)][TOTAL(2)][CRC32(4)][PAYLOAD]
package chunker

import (
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"hash/crc32"
	"math"
	"sort"
	"sync"
	"time"
)

const (
	// MAX_DNS_STRING_SIZE is the TXT character-string limit
	MAX_DNS_STRING_SIZE = 255

	// SAFE_CHUNK_SIZE caps the encoded length of one chunk
	SAFE_CHUNK_SIZE = 250

	// METADATA_OVERHEAD is Magic(4) + MessageID(16) + Sequence(2) + Total(2) + Checksum(4)
	METADATA_OVERHEAD = 28

	ENCODE_HEX    = "hex"
	ENCODE_BASE32 = "base32"

	// CHUNK_MAGIC is "DNSC"
	CHUNK_MAGIC = 0x444E5343
)

var (
	ErrEmptyData         = errors.New("no data to chunk")
	ErrMessageTooLarge   = errors.New("message too large")
	ErrUnknownEncoding   = errors.New("unknown chunk encoding")
	ErrNoChunks          = errors.New("no chunks provided")
	ErrMixedMessages     = errors.New("chunks belong to different messages")
	ErrIncompleteMessage = errors.New("incomplete message")
	ErrChecksumMismatch  = errors.New("checksum mismatch")
	ErrInvalidChunk      = errors.New("invalid chunk")
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// ChunkMetadata contains all information needed to reassemble a message
type ChunkMetadata struct {
	Magic       uint32
	MessageID   uuid.UUID
	Sequence    uint16 // 0-based
	TotalChunks uint16
	Checksum    uint32 // CRC32 (IEEE) of this chunk's payload
}

// Chunk represents a single DNS-ready fragment
type Chunk struct {
	Metadata ChunkMetadata
	Payload  []byte // raw data before encoding
	Encoded  string // DNS-ready text
	Encoding string // hex or base32
}

// Message is a chunked byte stream
type Message struct {
	ID        uuid.UUID
	Data      []byte
	Chunks    []Chunk
	Encoding  string
	CreatedAt time.Time
}

// ShortID is the DNS label form of the message ID
func (m *Message) ShortID() string {
	return ShortID(m.ID)
}

// ShortID renders the first 8 bytes of a message ID as lowercase hex
func ShortID(id uuid.UUID) string {
	return hex.EncodeToString(id[:8])
}

// ChunkerConfig allows customization of chunking behavior
type ChunkerConfig struct {
	Encoding string // hex or base32 (default)
}

// ChunkingStats tracks what a Chunker has produced
type ChunkingStats struct {
	MessagesChunked  int
	TotalChunks      int
	TotalBytes       int
	LastChunkingTime time.Duration
}

// Chunker handles message fragmentation
type Chunker struct {
	config ChunkerConfig

	mu    sync.Mutex
	stats ChunkingStats
}

// NewChunker creates a configured chunker instance
func NewChunker(config ChunkerConfig) (*Chunker, error) {
	if config.Encoding == "" {
		config.Encoding = ENCODE_BASE32
	}
	if config.Encoding != ENCODE_HEX && config.Encoding != ENCODE_BASE32 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, config.Encoding)
	}
	return &Chunker{config: config}, nil
}

// Encoding reports the configured text encoding
func (c *Chunker) Encoding() string {
	return c.config.Encoding
}

// PayloadSize is the number of data bytes per chunk for an encoding.
// Header plus payload must encode to at most SAFE_CHUNK_SIZE characters.
func PayloadSize(encoding string) int {
	var raw int
	switch encoding {
	case ENCODE_HEX:
		raw = SAFE_CHUNK_SIZE / 2
	default:
		// unpadded base32 emits ceil(n*8/5) characters
		raw = SAFE_CHUNK_SIZE * 5 / 8
	}
	return raw - METADATA_OVERHEAD
}

// ChunkMessage fragments data into DNS-ready chunks under a fresh message ID
func (c *Chunker) ChunkMessage(data []byte) (*Message, error) {
	return c.ChunkMessageWithID(uuid.New(), data)
}

// ChunkMessageWithID is ChunkMessage with a caller-chosen message ID
func (c *Chunker) ChunkMessageWithID(id uuid.UUID, data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}

	start := time.Now()
	payloadSize := PayloadSize(c.config.Encoding)
	totalChunks := (len(data) + payloadSize - 1) / payloadSize

	if totalChunks > math.MaxUint16 {
		return nil, fmt.Errorf("%w: requires %d chunks (max %d)", ErrMessageTooLarge, totalChunks, math.MaxUint16)
	}

	msg := &Message{
		ID:        id,
		Data:      data,
		Chunks:    make([]Chunk, 0, totalChunks),
		Encoding:  c.config.Encoding,
		CreatedAt: time.Now(),
	}

	for i := 0; i < totalChunks; i++ {
		lo := i * payloadSize
		hi := min(lo+payloadSize, len(data))
		payload := data[lo:hi]

		meta := ChunkMetadata{
			Magic:       CHUNK_MAGIC,
			MessageID:   id,
			Sequence:    uint16(i),
			TotalChunks: uint16(totalChunks),
			Checksum:    crc32.ChecksumIEEE(payload),
		}

		msg.Chunks = append(msg.Chunks, Chunk{
			Metadata: meta,
			Payload:  payload,
			Encoded:  c.encodeChunk(meta, payload),
			Encoding: c.config.Encoding,
		})
	}

	c.mu.Lock()
	c.stats.MessagesChunked++
	c.stats.TotalChunks += totalChunks
	c.stats.TotalBytes += len(data)
	c.stats.LastChunkingTime = time.Since(start)
	c.mu.Unlock()

	return msg, nil
}

// encodeChunk serializes metadata and payload into DNS-safe text
func (c *Chunker) encodeChunk(meta ChunkMetadata, payload []byte) string {
	raw := make([]byte, METADATA_OVERHEAD, METADATA_OVERHEAD+len(payload))
	binary.BigEndian.PutUint32(raw[0:4], meta.Magic)
	copy(raw[4:20], meta.MessageID[:])
	binary.BigEndian.PutUint16(raw[20:22], meta.Sequence)
	binary.BigEndian.PutUint16(raw[22:24], meta.TotalChunks)
	binary.BigEndian.PutUint32(raw[24:28], meta.Checksum)
	raw = append(raw, payload...)

	if c.config.Encoding == ENCODE_HEX {
		return hex.EncodeToString(raw)
	}
	return b32.EncodeToString(raw)
}

// DecodeChunk parses an encoded chunk. The configured encoding is tried
// first, then the other one, and the magic decides which was right.
func (c *Chunker) DecodeChunk(encoded string) (*Chunk, error) {
	order := []string{ENCODE_BASE32, ENCODE_HEX}
	if c.config.Encoding == ENCODE_HEX {
		order = []string{ENCODE_HEX, ENCODE_BASE32}
	}

	var lastErr error
	for _, enc := range order {
		chunk, err := decodeAs(enc, encoded)
		if err == nil {
			return chunk, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func decodeAs(encoding, encoded string) (*Chunk, error) {
	var (
		raw []byte
		err error
	)
	if encoding == ENCODE_HEX {
		raw, err = hex.DecodeString(encoded)
	} else {
		raw, err = b32.DecodeString(encoded)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s decode failed: %v", ErrInvalidChunk, encoding, err)
	}

	if len(raw) < METADATA_OVERHEAD {
		return nil, fmt.Errorf("%w: %d bytes, header needs %d", ErrInvalidChunk, len(raw), METADATA_OVERHEAD)
	}

	meta := ChunkMetadata{
		Magic:       binary.BigEndian.Uint32(raw[0:4]),
		Sequence:    binary.BigEndian.Uint16(raw[20:22]),
		TotalChunks: binary.BigEndian.Uint16(raw[22:24]),
		Checksum:    binary.BigEndian.Uint32(raw[24:28]),
	}
	copy(meta.MessageID[:], raw[4:20])

	if meta.Magic != CHUNK_MAGIC {
		return nil, fmt.Errorf("%w: bad magic %08x", ErrInvalidChunk, meta.Magic)
	}

	return &Chunk{
		Metadata: meta,
		Payload:  raw[METADATA_OVERHEAD:],
		Encoded:  encoded,
		Encoding: encoding,
	}, nil
}

// ValidateChunk checks magic, checksum, sequence bounds and payload size
func (c *Chunker) ValidateChunk(chunk *Chunk) error {
	meta := chunk.Metadata
	if meta.Magic != CHUNK_MAGIC {
		return fmt.Errorf("%w: bad magic %08x", ErrInvalidChunk, meta.Magic)
	}

	if got := crc32.ChecksumIEEE(chunk.Payload); got != meta.Checksum {
		return fmt.Errorf("%w: chunk %d expected %08x, got %08x", ErrChecksumMismatch, meta.Sequence, meta.Checksum, got)
	}

	if meta.Sequence >= meta.TotalChunks {
		return fmt.Errorf("%w: sequence %d out of bounds (total: %d)", ErrInvalidChunk, meta.Sequence, meta.TotalChunks)
	}

	if len(chunk.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidChunk)
	}

	encoding := chunk.Encoding
	if encoding == "" {
		encoding = c.config.Encoding
	}
	if limit := PayloadSize(encoding); len(chunk.Payload) > limit {
		return fmt.Errorf("%w: payload too large: %d > %d", ErrInvalidChunk, len(chunk.Payload), limit)
	}

	return nil
}

// ReassembleMessage reconstructs the original bytes from chunks in any order.
// Duplicate sequences are tolerated; the last copy wins.
func (c *Chunker) ReassembleMessage(chunks []Chunk) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	first := chunks[0].Metadata
	bySeq := make(map[uint16]Chunk, len(chunks))

	for _, chunk := range chunks {
		meta := chunk.Metadata
		if meta.MessageID != first.MessageID {
			return nil, fmt.Errorf("%w: %s vs %s", ErrMixedMessages, ShortID(first.MessageID), ShortID(meta.MessageID))
		}
		if meta.TotalChunks != first.TotalChunks {
			return nil, fmt.Errorf("%w: inconsistent total chunks %d vs %d", ErrMixedMessages, first.TotalChunks, meta.TotalChunks)
		}
		if err := c.ValidateChunk(&chunk); err != nil {
			return nil, err
		}
		bySeq[meta.Sequence] = chunk
	}

	if missing := findMissingChunks(bySeq, first.TotalChunks); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing chunks %v", ErrIncompleteMessage, missing)
	}

	seqs := make([]int, 0, len(bySeq))
	for seq := range bySeq {
		seqs = append(seqs, int(seq))
	}
	sort.Ints(seqs)

	var out []byte
	for _, seq := range seqs {
		out = append(out, bySeq[uint16(seq)].Payload...)
	}
	return out, nil
}

// findMissingChunks identifies which sequence numbers are missing
func findMissingChunks(present map[uint16]Chunk, total uint16) []uint16 {
	var missing []uint16
	for i := uint16(0); i < total; i++ {
		if _, ok := present[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// GetStats returns chunking statistics
func (c *Chunker) GetStats() ChunkingStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
