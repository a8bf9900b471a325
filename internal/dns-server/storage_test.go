package dnsserver

import (
	"crypto/rand"
	"github.com/faanross/simulacra_lsb/internal/chunker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

const testDomain = "covert.example.com"

type fixture struct {
	id       string
	data     []byte
	chunks   map[int]string
	manifest string
	records  []chunker.DNSRecord
}

// newFixture chunks size random bytes the way stego-send does
func newFixture(t *testing.T, size int) fixture {
	t.Helper()

	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)

	c, err := chunker.NewChunker(chunker.ChunkerConfig{Encoding: chunker.ENCODE_BASE32})
	require.NoError(t, err)
	msg, err := c.ChunkMessage(data)
	require.NoError(t, err)

	manifest, records, err := chunker.NewDNSEncoder(testDomain).EncodeToDNS(msg)
	require.NoError(t, err)

	f := fixture{
		id:       manifest.MessageID,
		data:     data,
		chunks:   make(map[int]string),
		manifest: manifest.Value(),
		records:  records,
	}
	for _, record := range records[1:] {
		label, err := chunker.ParseLabel(record.Name)
		require.NoError(t, err)
		f.chunks[label.Sequence] = record.Value
	}
	return f
}

func storedMessage(id string, created time.Time) *Message {
	return &Message{
		ID:          id,
		Chunks:      map[int]string{0: "AAAA", 1: "BBBB"},
		TotalChunks: 2,
		Manifest:    "2:deadbeef:1700000000",
		CreatedAt:   created,
	}
}

func withStorages(t *testing.T, fn func(t *testing.T, s Storage)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStorage())
	})
	t.Run("badger", func(t *testing.T) {
		bs, err := OpenBadgerStorage("", zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = bs.Close() })
		fn(t, bs)
	})
}

func setClock(s Storage, now func() time.Time) {
	switch st := s.(type) {
	case *MemoryStorage:
		st.now = now
	case *BadgerStorage:
		st.now = now
	}
}

func TestStorage_StoreAndGet(t *testing.T) {
	withStorages(t, func(t *testing.T, s Storage) {
		msg := storedMessage("abc123", time.Time{})
		msg.State = StateConsumed
		require.NoError(t, s.StoreMessage(msg))

		got, err := s.GetMessage("abc123")
		require.NoError(t, err)
		assert.Equal(t, msg.Chunks, got.Chunks)
		assert.Equal(t, msg.Manifest, got.Manifest)
		assert.Equal(t, 2, got.TotalChunks)
		assert.Equal(t, StateNew, got.State, "stored messages always start new")
		assert.False(t, got.CreatedAt.IsZero())

		err = s.StoreMessage(storedMessage("abc123", time.Time{}))
		assert.ErrorIs(t, err, ErrMessageExists)

		_, err = s.GetMessage("missing")
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})
}

func TestStorage_GetChunk(t *testing.T) {
	withStorages(t, func(t *testing.T, s Storage) {
		require.NoError(t, s.StoreMessage(storedMessage("abc123", time.Time{})))

		data, err := s.GetChunk("abc123", 1)
		require.NoError(t, err)
		assert.Equal(t, "BBBB", data)

		_, err = s.GetChunk("abc123", 2)
		assert.ErrorIs(t, err, ErrChunkNotFound)

		_, err = s.GetChunk("missing", 0)
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})
}

func TestStorage_ReturnsCopies(t *testing.T) {
	withStorages(t, func(t *testing.T, s Storage) {
		msg := storedMessage("abc123", time.Time{})
		require.NoError(t, s.StoreMessage(msg))
		msg.Chunks[0] = "changed"

		got, err := s.GetMessage("abc123")
		require.NoError(t, err)
		got.Chunks[1] = "changed"

		again, err := s.GetMessage("abc123")
		require.NoError(t, err)
		assert.Equal(t, "AAAA", again.Chunks[0])
		assert.Equal(t, "BBBB", again.Chunks[1])
	})
}

func TestStorage_PerClientDelivery(t *testing.T) {
	withStorages(t, func(t *testing.T, s Storage) {
		base := time.Now().Add(-time.Minute)
		require.NoError(t, s.StoreMessage(storedMessage("second", base.Add(time.Second))))
		require.NoError(t, s.StoreMessage(storedMessage("first", base)))

		ids := func(client string) []string {
			msgs, err := s.GetNewMessages(client)
			require.NoError(t, err)
			out := []string{}
			for _, m := range msgs {
				out = append(out, m.ID)
			}
			return out
		}

		assert.Equal(t, []string{"first", "second"}, ids("alice"), "oldest first")

		require.NoError(t, s.MarkAsDelivered("first", "alice"))
		assert.Equal(t, []string{"second"}, ids("alice"))
		assert.Equal(t, []string{"first", "second"}, ids("bob"), "delivery is tracked per client")

		got, err := s.GetMessage("first")
		require.NoError(t, err)
		assert.Equal(t, StateDelivered, got.State)
		require.Len(t, got.Consumers, 1)
		assert.Equal(t, "alice", got.Consumers[0].ClientID)

		require.NoError(t, s.MarkAsConsumed("first", "bob"))
		assert.Equal(t, []string{"second"}, ids("bob"))
		assert.Equal(t, []string{"second"}, ids("carol"), "consumed messages are hidden from everyone")

		assert.ErrorIs(t, s.MarkAsDelivered("missing", "alice"), ErrMessageNotFound)
		assert.ErrorIs(t, s.MarkAsConsumed("missing", "alice"), ErrMessageNotFound)
	})
}

func TestStorage_ListMessages(t *testing.T) {
	withStorages(t, func(t *testing.T, s Storage) {
		base := time.Now()
		require.NoError(t, s.StoreMessage(storedMessage("b", base.Add(time.Second))))
		require.NoError(t, s.StoreMessage(storedMessage("a", base)))

		msgs, err := s.ListMessages()
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "a", msgs[0].ID)
		assert.Equal(t, "b", msgs[1].ID)
	})
}

func TestStorage_CleanExpired(t *testing.T) {
	withStorages(t, func(t *testing.T, s Storage) {
		now := time.Now()
		setClock(s, func() time.Time { return now })

		require.NoError(t, s.StoreMessage(storedMessage("old", now.Add(-2*time.Hour))))
		require.NoError(t, s.StoreMessage(storedMessage("fresh", now.Add(-time.Minute))))
		require.NoError(t, s.MarkAsDelivered("old", "alice"))

		removed, err := s.CleanExpired(time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		_, err = s.GetMessage("old")
		assert.ErrorIs(t, err, ErrMessageNotFound)
		_, err = s.GetMessage("fresh")
		assert.NoError(t, err)

		removed, err = s.CleanExpired(time.Hour)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}

func TestStorage_GetStats(t *testing.T) {
	withStorages(t, func(t *testing.T, s Storage) {
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, s.StoreMessage(storedMessage(id, time.Time{})))
		}
		require.NoError(t, s.MarkAsDelivered("a", "alice"))
		require.NoError(t, s.MarkAsConsumed("b", "alice"))

		assert.Equal(t, StorageStats{
			TotalMessages: 3,
			NewMessages:   1,
			Delivered:     1,
			Consumed:      1,
			TotalChunks:   6,
		}, s.GetStats())
	})
}

func TestBadgerStorage_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	bs, err := OpenBadgerStorage(dir, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, bs.StoreMessage(storedMessage("abc123", time.Time{})))
	require.NoError(t, bs.MarkAsDelivered("abc123", "alice"))
	require.NoError(t, bs.Close())

	bs, err = OpenBadgerStorage(dir, zerolog.Nop())
	require.NoError(t, err)
	defer bs.Close()

	got, err := bs.GetMessage("abc123")
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, got.State)
	assert.Equal(t, "BBBB", got.Chunks[1])

	pending, err := bs.GetNewMessages("alice")
	require.NoError(t, err)
	assert.Empty(t, pending, "seen markers are persisted too")
}

func TestMessageState_String(t *testing.T) {
	assert.Equal(t, "new", StateNew.String())
	assert.Equal(t, "delivered", StateDelivered.String())
	assert.Equal(t, "consumed", StateConsumed.String())
	assert.Equal(t, "expired", StateExpired.String())
	assert.Equal(t, "unknown", MessageState(42).String())
}
