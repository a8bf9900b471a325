// Package dnsserver stores chunked stego images and serves them as DNS TXT
// records, with an HTTP API for uploads and queue-style delivery to clients.
package dnsserver

import (
	"errors"
	"maps"
	"slices"
	"sync"
	"time"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrChunkNotFound   = errors.New("chunk not found")
	ErrMessageExists   = errors.New("message already exists")
	ErrInvalidMessage  = errors.New("invalid message")
)

// Message is a stored chunked payload
type Message struct {
	ID          string           `json:"id"`
	Chunks      map[int]string   `json:"chunks"` // sequence -> encoded chunk
	TotalChunks int              `json:"total_chunks"`
	Manifest    string           `json:"manifest"` // manifest TXT value
	CreatedAt   time.Time        `json:"created_at"`
	State       MessageState     `json:"state"`
	Consumers   []ConsumerRecord `json:"consumers"`
}

func (m *Message) clone() *Message {
	out := *m
	out.Chunks = maps.Clone(m.Chunks)
	out.Consumers = slices.Clone(m.Consumers)
	return &out
}

// MessageState tracks lifecycle
type MessageState int

const (
	StateNew       MessageState = iota // uploaded, never fetched
	StateDelivered                     // announced to at least one client
	StateConsumed                      // acknowledged
	StateExpired
)

func (s MessageState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateDelivered:
		return "delivered"
	case StateConsumed:
		return "consumed"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// ConsumerRecord tracks who fetched what
type ConsumerRecord struct {
	ClientID  string    `json:"client_id"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Storage is the message store behind the DNS server
type Storage interface {
	StoreMessage(msg *Message) error
	GetMessage(id string) (*Message, error)
	GetChunk(msgID string, seq int) (string, error)

	// Queue semantics
	GetNewMessages(clientID string) ([]*Message, error)
	MarkAsDelivered(msgID, clientID string) error
	// ClaimNewMessages walks the client's new messages oldest first and marks
	// each one accept takes as delivered, in one step. The walk stops at the
	// first message accept refuses.
	ClaimNewMessages(clientID string, accept func(*Message) bool) ([]*Message, error)
	MarkAsConsumed(msgID, clientID string) error

	ListMessages() ([]*Message, error)
	CleanExpired(ttl time.Duration) (int, error)
	GetStats() StorageStats
	Close() error
}

// StorageStats provides metrics
type StorageStats struct {
	TotalMessages int `json:"total_messages"`
	NewMessages   int `json:"new"`
	Delivered     int `json:"delivered"`
	Consumed      int `json:"consumed"`
	TotalChunks   int `json:"total_chunks"`
}

func (s *StorageStats) add(msg *Message) {
	s.TotalMessages++
	s.TotalChunks += len(msg.Chunks)
	switch msg.State {
	case StateNew:
		s.NewMessages++
	case StateDelivered:
		s.Delivered++
	case StateConsumed:
		s.Consumed++
	}
}

// deliverable reports whether msg should be announced to a client that has not seen it
func deliverable(msg *Message, seen bool) bool {
	return !seen && msg.State != StateConsumed && msg.State != StateExpired
}

func sortByCreation(msgs []*Message) {
	slices.SortFunc(msgs, func(a, b *Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}

// MemoryStorage keeps everything in RAM
type MemoryStorage struct {
	mu       sync.RWMutex
	messages map[string]*Message
	seen     map[string]map[string]bool // clientID -> msgID set
	now      func() time.Time
}

// NewMemoryStorage creates in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		messages: make(map[string]*Message),
		seen:     make(map[string]map[string]bool),
		now:      time.Now,
	}
}

// StoreMessage adds a new message
func (ms *MemoryStorage) StoreMessage(msg *Message) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.messages[msg.ID]; exists {
		return ErrMessageExists
	}

	stored := msg.clone()
	stored.State = StateNew
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = ms.now()
	}
	ms.messages[msg.ID] = stored
	return nil
}

// GetMessage retrieves a copy of a message by ID
func (ms *MemoryStorage) GetMessage(id string) (*Message, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	msg, exists := ms.messages[id]
	if !exists {
		return nil, ErrMessageNotFound
	}
	return msg.clone(), nil
}

// GetChunk retrieves a specific chunk
func (ms *MemoryStorage) GetChunk(msgID string, seq int) (string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	msg, exists := ms.messages[msgID]
	if !exists {
		return "", ErrMessageNotFound
	}

	data, exists := msg.Chunks[seq]
	if !exists {
		return "", ErrChunkNotFound
	}
	return data, nil
}

// GetNewMessages returns messages the client has not been handed yet, oldest first
func (ms *MemoryStorage) GetNewMessages(clientID string) ([]*Message, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*Message
	for id, msg := range ms.messages {
		if deliverable(msg, ms.seen[clientID][id]) {
			out = append(out, msg.clone())
		}
	}
	sortByCreation(out)
	return out, nil
}

// MarkAsDelivered records that a client has been handed a message
func (ms *MemoryStorage) MarkAsDelivered(msgID, clientID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	msg, exists := ms.messages[msgID]
	if !exists {
		return ErrMessageNotFound
	}
	ms.deliver(msg, clientID)
	return nil
}

// ClaimNewMessages selects and marks new messages under a single lock
func (ms *MemoryStorage) ClaimNewMessages(clientID string, accept func(*Message) bool) ([]*Message, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var candidates []*Message
	for id, msg := range ms.messages {
		if deliverable(msg, ms.seen[clientID][id]) {
			candidates = append(candidates, msg)
		}
	}
	sortByCreation(candidates)

	var out []*Message
	for _, msg := range candidates {
		if !accept(msg.clone()) {
			break
		}
		ms.deliver(msg, clientID)
		out = append(out, msg.clone())
	}
	return out, nil
}

// deliver marks msg as handed to clientID. ms.mu must be held.
func (ms *MemoryStorage) deliver(msg *Message, clientID string) {
	if msg.State == StateNew {
		msg.State = StateDelivered
	}
	msg.Consumers = append(msg.Consumers, ConsumerRecord{ClientID: clientID, FetchedAt: ms.now()})

	if ms.seen[clientID] == nil {
		ms.seen[clientID] = make(map[string]bool)
	}
	ms.seen[clientID][msg.ID] = true
}

// MarkAsConsumed marks message as fully processed
func (ms *MemoryStorage) MarkAsConsumed(msgID, clientID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	msg, exists := ms.messages[msgID]
	if !exists {
		return ErrMessageNotFound
	}
	msg.State = StateConsumed

	if ms.seen[clientID] == nil {
		ms.seen[clientID] = make(map[string]bool)
	}
	ms.seen[clientID][msgID] = true
	return nil
}

// ListMessages returns all messages, oldest first
func (ms *MemoryStorage) ListMessages() ([]*Message, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]*Message, 0, len(ms.messages))
	for _, msg := range ms.messages {
		out = append(out, msg.clone())
	}
	sortByCreation(out)
	return out, nil
}

// CleanExpired removes messages older than ttl
func (ms *MemoryStorage) CleanExpired(ttl time.Duration) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	cutoff := ms.now().Add(-ttl)
	removed := 0

	for id, msg := range ms.messages {
		if msg.CreatedAt.Before(cutoff) {
			delete(ms.messages, id)
			for _, set := range ms.seen {
				delete(set, id)
			}
			removed++
		}
	}
	return removed, nil
}

// GetStats returns storage statistics
func (ms *MemoryStorage) GetStats() StorageStats {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var stats StorageStats
	for _, msg := range ms.messages {
		stats.add(msg)
	}
	return stats
}

// Close is a no-op for memory storage
func (ms *MemoryStorage) Close() error {
	return nil
}
