package dnsserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"strings"
	"sync"
	"time"
)

const (
	prefixMessage = "msg:"
	prefixSeen    = "seen:"
)

// BadgerStorage persists messages in BadgerDB so they survive restarts
type BadgerStorage struct {
	db  *badger.DB
	mu  sync.Mutex // serializes read-modify-write transactions
	now func() time.Time
}

// OpenBadgerStorage opens (or creates) a database directory.
// An empty path keeps the database in memory.
func OpenBadgerStorage(path string, logger zerolog.Logger) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{logger})
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return NewBadgerStorage(db), nil
}

// NewBadgerStorage wraps an already open database
func NewBadgerStorage(db *badger.DB) *BadgerStorage {
	return &BadgerStorage{db: db, now: time.Now}
}

func messageKey(id string) []byte {
	return []byte(prefixMessage + id)
}

func seenKey(clientID, msgID string) []byte {
	return []byte(prefixSeen + clientID + ":" + msgID)
}

func getMessage(txn *badger.Txn, id string) (*Message, error) {
	item, err := txn.Get(messageKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}

	var msg Message
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &msg)
	})
	if err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}
	return &msg, nil
}

func putMessage(txn *badger.Txn, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	return txn.Set(messageKey(msg.ID), data)
}

// eachMessage calls fn for every stored message
func eachMessage(txn *badger.Txn, fn func(*Message) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	prefix := []byte(prefixMessage)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var msg Message
		err := it.Item().Value(func(v []byte) error {
			return json.Unmarshal(v, &msg)
		})
		if err != nil {
			return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		if err := fn(&msg); err != nil {
			return err
		}
	}
	return nil
}

// StoreMessage adds a new message
func (bs *BadgerStorage) StoreMessage(msg *Message) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	return bs.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(messageKey(msg.ID)); err == nil {
			return ErrMessageExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		stored := msg.clone()
		stored.State = StateNew
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = bs.now()
		}
		return putMessage(txn, stored)
	})
}

// GetMessage retrieves a message by ID
func (bs *BadgerStorage) GetMessage(id string) (*Message, error) {
	var msg *Message
	err := bs.db.View(func(txn *badger.Txn) error {
		var err error
		msg, err = getMessage(txn, id)
		return err
	})
	return msg, err
}

// GetChunk retrieves a specific chunk
func (bs *BadgerStorage) GetChunk(msgID string, seq int) (string, error) {
	msg, err := bs.GetMessage(msgID)
	if err != nil {
		return "", err
	}

	data, ok := msg.Chunks[seq]
	if !ok {
		return "", ErrChunkNotFound
	}
	return data, nil
}

// GetNewMessages returns messages the client has not been handed yet, oldest first
func (bs *BadgerStorage) GetNewMessages(clientID string) ([]*Message, error) {
	var out []*Message
	err := bs.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = newMessages(txn, clientID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// newMessages lists the client's deliverable messages inside txn, oldest first
func newMessages(txn *badger.Txn, clientID string) ([]*Message, error) {
	var out []*Message
	err := eachMessage(txn, func(msg *Message) error {
		_, err := txn.Get(seenKey(clientID, msg.ID))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			if deliverable(msg, false) {
				out = append(out, msg)
			}
		case err != nil:
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortByCreation(out)
	return out, nil
}

// ClaimNewMessages selects and marks new messages in one transaction
func (bs *BadgerStorage) ClaimNewMessages(clientID string, accept func(*Message) bool) ([]*Message, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	var out []*Message
	err := bs.db.Update(func(txn *badger.Txn) error {
		out = nil

		candidates, err := newMessages(txn, clientID)
		if err != nil {
			return err
		}

		for _, msg := range candidates {
			if !accept(msg.clone()) {
				break
			}
			bs.deliver(msg, clientID)
			if err := putMessage(txn, msg); err != nil {
				return err
			}
			if err := txn.Set(seenKey(clientID, msg.ID), nil); err != nil {
				return err
			}
			out = append(out, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// update loads a message, applies fn and writes it back together with the client's seen marker
func (bs *BadgerStorage) update(msgID, clientID string, fn func(*Message)) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	return bs.db.Update(func(txn *badger.Txn) error {
		msg, err := getMessage(txn, msgID)
		if err != nil {
			return err
		}
		fn(msg)
		if err := putMessage(txn, msg); err != nil {
			return err
		}
		return txn.Set(seenKey(clientID, msgID), nil)
	})
}

// MarkAsDelivered records that a client has been handed a message
func (bs *BadgerStorage) MarkAsDelivered(msgID, clientID string) error {
	return bs.update(msgID, clientID, func(msg *Message) {
		bs.deliver(msg, clientID)
	})
}

func (bs *BadgerStorage) deliver(msg *Message, clientID string) {
	if msg.State == StateNew {
		msg.State = StateDelivered
	}
	msg.Consumers = append(msg.Consumers, ConsumerRecord{ClientID: clientID, FetchedAt: bs.now()})
}

// MarkAsConsumed marks message as fully processed
func (bs *BadgerStorage) MarkAsConsumed(msgID, clientID string) error {
	return bs.update(msgID, clientID, func(msg *Message) {
		msg.State = StateConsumed
	})
}

// ListMessages returns all messages, oldest first
func (bs *BadgerStorage) ListMessages() ([]*Message, error) {
	var out []*Message
	err := bs.db.View(func(txn *badger.Txn) error {
		return eachMessage(txn, func(msg *Message) error {
			out = append(out, msg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortByCreation(out)
	return out, nil
}

// CleanExpired removes messages older than ttl along with their seen markers
func (bs *BadgerStorage) CleanExpired(ttl time.Duration) (int, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	cutoff := bs.now().Add(-ttl)
	removed := 0

	err := bs.db.Update(func(txn *badger.Txn) error {
		expired := make(map[string]bool)
		err := eachMessage(txn, func(msg *Message) error {
			if msg.CreatedAt.Before(cutoff) {
				expired[msg.ID] = true
			}
			return nil
		})
		if err != nil || len(expired) == 0 {
			return err
		}

		var stale [][]byte
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		prefix := []byte(prefixSeen)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if i := strings.LastIndexByte(string(key), ':'); i >= 0 && expired[string(key[i+1:])] {
				stale = append(stale, key)
			}
		}
		it.Close()

		for id := range expired {
			stale = append(stale, messageKey(id))
		}
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}

		removed = len(expired)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// GetStats returns storage statistics
func (bs *BadgerStorage) GetStats() StorageStats {
	var stats StorageStats
	_ = bs.db.View(func(txn *badger.Txn) error {
		return eachMessage(txn, func(msg *Message) error {
			stats.add(msg)
			return nil
		})
	})
	return stats
}

// Close flushes and closes the database
func (bs *BadgerStorage) Close() error {
	return bs.db.Close()
}

// badgerLogger routes badger's internal logging through zerolog
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Trace().Str("component", "badger").Msgf(strings.TrimSpace(format), args...)
}
