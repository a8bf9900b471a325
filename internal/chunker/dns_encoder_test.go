package chunker

import (
	"bytes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

func encodedMessage(t *testing.T, size int) (*Message, *DNSManifest, []DNSRecord) {
	t.Helper()
	c := newChunker(t, ENCODE_BASE32)
	msg, err := c.ChunkMessage(randomData(t, size))
	require.NoError(t, err)

	manifest, records, err := NewDNSEncoder("Covert.Example.com.").EncodeToDNS(msg)
	require.NoError(t, err)
	return msg, manifest, records
}

func TestEncodeToDNS(t *testing.T) {
	msg, manifest, records := encodedMessage(t, 400)
	id := msg.ShortID()

	require.Len(t, records, len(msg.Chunks)+1)
	assert.Equal(t, "m-"+id+".data.covert.example.com", records[0].Name)
	assert.Equal(t, manifest.Value(), records[0].Value)
	assert.Equal(t, "c-0-"+id+".data.covert.example.com", records[1].Name)
	assert.Equal(t, msg.Chunks[0].Encoded, records[1].Value)

	assert.Len(t, id, 16)
	assert.Equal(t, len(msg.Chunks), manifest.TotalChunks)
	assert.Equal(t, Checksum(msg.Data), manifest.Checksum)
	assert.Len(t, manifest.ChunkNames, len(msg.Chunks))

	for _, r := range records {
		assert.Equal(t, uint32(DEFAULT_TTL), r.TTL)
		assert.Equal(t, "TXT", r.Type)
	}
}

func TestParseLabel(t *testing.T) {
	tests := []struct {
		name string
		want RecordLabel
		err  bool
	}{
		{"m-abc123.data.example.com", RecordLabel{Kind: KindManifest, MessageID: "abc123"}, false},
		{"C-12-ABC123.data.example.com.", RecordLabel{Kind: KindChunk, Sequence: 12, MessageID: "abc123"}, false},
		{"www.example.com", RecordLabel{Kind: KindUnknown}, false},
		{"c-x-abc.data.example.com", RecordLabel{}, true},
		{"c-1.data.example.com", RecordLabel{}, true},
		{"m-.data.example.com", RecordLabel{}, true},
		{"c--1-abc.data.example.com", RecordLabel{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLabel(tt.name)
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest("abc", "7:deadbeef:1700000000")
	require.NoError(t, err)
	assert.Equal(t, 7, m.TotalChunks)
	assert.Equal(t, "deadbeef", m.Checksum)
	assert.Equal(t, int64(1700000000), m.Timestamp.Unix())

	for _, bad := range []string{"", "7:abc", "x:abc:1", "0:abc:1", "65536:abc:1", "3:abc:later"} {
		_, err := ParseManifest("abc", bad)
		assert.ErrorIs(t, err, ErrInvalidManifest, "value %q", bad)
	}
}

func TestReassembleFromRecords(t *testing.T) {
	msg, _, records := encodedMessage(t, 1000)
	enc := NewDNSEncoder("covert.example.com")

	// shuffle-ish: manifest last, chunks reversed
	reordered := make([]DNSRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		reordered = append(reordered, records[i])
	}

	data, manifest, err := enc.Reassemble(reordered)
	require.NoError(t, err)
	require.NotNil(t, manifest)
	assert.Equal(t, msg.Data, data)
	assert.Equal(t, "covert.example.com", manifest.Domain)
}

func TestReassembleFromRecords_Failures(t *testing.T) {
	enc := NewDNSEncoder("covert.example.com")

	t.Run("missing chunk", func(t *testing.T) {
		_, _, records := encodedMessage(t, 600)
		records = append(records[:2], records[3:]...)
		_, _, err := enc.Reassemble(records)
		assert.ErrorIs(t, err, ErrIncompleteMessage)
	})

	t.Run("manifest checksum", func(t *testing.T) {
		_, manifest, records := encodedMessage(t, 600)
		manifest.Checksum = "00000000"
		records[0].Value = manifest.Value()
		_, _, err := enc.Reassemble(records)
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})

	t.Run("nothing usable", func(t *testing.T) {
		_, _, err := enc.Reassemble([]DNSRecord{{Name: "www.example.com", Value: "hello"}})
		assert.ErrorIs(t, err, ErrNoChunks)
	})
}

func TestZoneFile_RoundTrip(t *testing.T) {
	msg, _, records := encodedMessage(t, 900)
	enc := NewDNSEncoder("covert.example.com")

	var buf bytes.Buffer
	require.NoError(t, enc.GenerateZoneFile(&buf, records))
	assert.True(t, strings.HasPrefix(buf.String(), "; simulacra zone for covert.example.com"))
	assert.Contains(t, buf.String(), "IN\tTXT")

	parsed, err := ParseZoneFile(&buf)
	require.NoError(t, err)
	assert.Equal(t, records, parsed)

	data, _, err := enc.Reassemble(parsed)
	require.NoError(t, err)
	assert.Equal(t, msg.Data, data)
}

func TestParseZoneFile_Invalid(t *testing.T) {
	_, err := ParseZoneFile(strings.NewReader("m-abc.data.example.com. 300 IN BOGUSTYPE foo\n"))
	assert.Error(t, err)
}
