package dnsserver

import (
	"fmt"
	"github.com/faanross/simulacra_lsb/internal/chunker"
	"time"
)

// QueueManager adds publish/consume/ack semantics on top of storage
type QueueManager struct {
	storage Storage
	metrics *Metrics
}

// NewQueueManager creates a queue manager. metrics may be nil.
func NewQueueManager(storage Storage, metrics *Metrics) *QueueManager {
	return &QueueManager{storage: storage, metrics: metrics}
}

// PublishMessage validates and stores a chunked message
func (qm *QueueManager) PublishMessage(id string, chunks map[int]string, manifest string) error {
	if label, err := chunker.ParseLabel("m-" + id); err != nil || label.MessageID != id {
		return fmt.Errorf("%w: bad message id %q", ErrInvalidMessage, id)
	}

	m, err := chunker.ParseManifest(id, manifest)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	if len(chunks) != m.TotalChunks {
		return fmt.Errorf("%w: manifest announces %d chunks, got %d", ErrInvalidMessage, m.TotalChunks, len(chunks))
	}
	for seq, data := range chunks {
		if seq < 0 || seq >= m.TotalChunks {
			return fmt.Errorf("%w: chunk %d out of range", ErrInvalidMessage, seq)
		}
		if data == "" || len(data) > chunker.MAX_DNS_STRING_SIZE {
			return fmt.Errorf("%w: chunk %d is %d characters", ErrInvalidMessage, seq, len(data))
		}
	}

	msg := &Message{
		ID:          id,
		Chunks:      chunks,
		TotalChunks: len(chunks),
		Manifest:    manifest,
		State:       StateNew,
	}
	if err := qm.storage.StoreMessage(msg); err != nil {
		return err
	}

	if qm.metrics != nil {
		qm.metrics.Uploads.Inc()
		qm.metrics.ChunksStored.Add(float64(len(chunks)))
	}
	return nil
}

// PublishRecords stores the message carried by a set of DNS records, e.g. a loaded zone file
func (qm *QueueManager) PublishRecords(records []chunker.DNSRecord) (string, error) {
	var (
		manifest *chunker.DNSManifest
		value    string
	)
	chunks := make(map[int]string)

	for _, record := range records {
		label, err := chunker.ParseLabel(record.Name)
		if err != nil {
			return "", err
		}

		switch label.Kind {
		case chunker.KindManifest:
			if manifest, err = chunker.ParseManifest(label.MessageID, record.Value); err != nil {
				return "", err
			}
			value = record.Value
		case chunker.KindChunk:
			chunks[label.Sequence] = record.Value
		}
	}

	if manifest == nil {
		return "", fmt.Errorf("%w: no manifest record", ErrInvalidMessage)
	}
	return manifest.MessageID, qm.PublishMessage(manifest.MessageID, chunks, value)
}

// ConsumeMessages hands a client up to limit messages it has not seen, oldest
// first, and marks them delivered. maxBytes bounds the length of the
// comma-joined IDs so the batch fits one TXT string. Zero disables either bound.
func (qm *QueueManager) ConsumeMessages(clientID string, limit, maxBytes int) ([]*Message, error) {
	count, size := 0, 0
	messages, err := qm.storage.ClaimNewMessages(clientID, func(msg *Message) bool {
		next := size + len(msg.ID)
		if count > 0 {
			next++ // separator
		}
		if (limit > 0 && count == limit) || (maxBytes > 0 && next > maxBytes) {
			return false
		}
		count, size = count+1, next
		return true
	})
	if err != nil {
		return nil, err
	}

	if qm.metrics != nil {
		qm.metrics.Deliveries.Add(float64(len(messages)))
	}
	return messages, nil
}

// AcknowledgeMessage marks a message as consumed
func (qm *QueueManager) AcknowledgeMessage(msgID, clientID string) error {
	if err := qm.storage.MarkAsConsumed(msgID, clientID); err != nil {
		return err
	}
	if qm.metrics != nil {
		qm.metrics.Acks.Inc()
	}
	return nil
}

// GetMessageStatus returns current state of a message
func (qm *QueueManager) GetMessageStatus(msgID string) (string, error) {
	msg, err := qm.storage.GetMessage(msgID)
	if err != nil {
		return "", err
	}

	if msg.State == StateDelivered {
		return fmt.Sprintf("delivered to %d clients", len(msg.Consumers)), nil
	}
	return msg.State.String(), nil
}

// CleanExpired drops messages older than ttl
func (qm *QueueManager) CleanExpired(ttl time.Duration) (int, error) {
	removed, err := qm.storage.CleanExpired(ttl)
	if err != nil {
		return 0, err
	}
	if qm.metrics != nil {
		qm.metrics.Expired.Add(float64(removed))
	}
	return removed, nil
}

// Storage exposes the underlying store
func (qm *QueueManager) Storage() Storage {
	return qm.storage
}
