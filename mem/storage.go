// Package mem provides in-memory implementations of smtpd interfaces.
// These are suitable for testing and development but not production use.
package mem

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/haldane-labs/smtpd"
)

// Storage is an in-memory store of finalized messages, keyed by envelope
// ID. MessageStoreFactory creates a Sink per transaction that streams
// lines into a buffer and commits it to Storage on EndWrite.
type Storage struct {
	mu       sync.RWMutex
	messages map[smtpd.EnvelopeID]*StoredMessage
	metrics  smtpd.StorageMetrics
}

// StoredMessage represents a message stored in memory.
type StoredMessage struct {
	// Envelope contains the envelope metadata.
	Envelope smtpd.Envelope

	// StoredAt is when the message was stored.
	StoredAt time.Time

	// Data is the raw message data, with dot-stuffing already removed
	// and lines separated by CRLF.
	Data []byte
}

// NewStorage creates a new in-memory storage.
func NewStorage() *Storage {
	return &Storage{
		messages: make(map[smtpd.EnvelopeID]*StoredMessage),
	}
}

func (s *Storage) commit(envelope smtpd.Envelope, data []byte) smtpd.StorageReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &StoredMessage{
		Envelope: envelope,
		StoredAt: time.Now(),
		Data:     data,
	}
	s.messages[envelope.ID()] = msg

	s.metrics.MessagesStored++
	s.metrics.BytesStored += uint64(len(data))

	return smtpd.StorageReceipt{
		MessageID:    smtpd.StorageMessageID(envelope.ID()),
		EnvelopeID:   envelope.ID(),
		StoredAt:     msg.StoredAt.Unix(),
		BytesWritten: int64(len(data)),
	}
}

// Get retrieves a stored message by envelope ID.
func (s *Storage) Get(id smtpd.EnvelopeID) (*StoredMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	return msg, ok
}

// List returns all stored messages.
func (s *Storage) List() []*StoredMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*StoredMessage, 0, len(s.messages))
	for _, msg := range s.messages {
		result = append(result, msg)
	}
	return result
}

// Count returns the number of stored messages.
func (s *Storage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Delete removes a message by envelope ID.
func (s *Storage) Delete(id smtpd.EnvelopeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; ok {
		delete(s.messages, id)
		return true
	}
	return false
}

// Clear removes all stored messages.
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make(map[smtpd.EnvelopeID]*StoredMessage)
}

// Metrics returns storage metrics.
func (s *Storage) Metrics() smtpd.StorageMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// Healthy always returns nil for in-memory storage.
func (s *Storage) Healthy(ctx context.Context) error {
	return nil
}

// sink is a smtpd.MessageStore that buffers a message's lines and
// commits them to Storage on EndWrite.
type sink struct {
	storage  *Storage
	envelope smtpd.Envelope
	buf      bytes.Buffer
}

var _ smtpd.MessageStore = (*sink)(nil)

func (s *sink) BeginWrite(context.Context) (smtpd.Response, error) {
	return smtpd.ResponseStartMailInput, nil
}

func (s *sink) Write(_ context.Context, line []byte) error {
	s.buf.Write(line)
	s.buf.WriteString("\r\n")
	return nil
}

func (s *sink) EndWrite(context.Context) (smtpd.Response, error) {
	s.storage.commit(s.envelope, s.buf.Bytes())
	return smtpd.ResponseOK, nil
}

func (s *sink) Close() error {
	return nil
}

// StorageFactory is an smtpd.MessageStoreFactory backed by Storage.
type StorageFactory struct {
	storage *Storage
}

var _ smtpd.MessageStoreFactory = (*StorageFactory)(nil)

// NewStorageFactory creates a MessageStoreFactory backed by storage.
func NewStorageFactory(storage *Storage) *StorageFactory {
	return &StorageFactory{storage: storage}
}

// Create returns a new sink scoped to this envelope.
func (f *StorageFactory) Create(ctx context.Context, session smtpd.SessionInfo, envelope smtpd.Envelope) (smtpd.MessageStore, error) {
	return &sink{storage: f.storage, envelope: envelope}, nil
}
