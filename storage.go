package smtpd

import "context"

// MessageStore is the per-transaction sink the session writes a message
// body into during DATA. It is created by MessageStoreFactory once the
// transaction has at least one accepted recipient, and is owned by the
// session's DATA handling: once the sink is created, Close is called on
// every exit path (including a client disconnect mid-body), after
// EndWrite when the body completes.
type MessageStore interface {
	// BeginWrite prepares the sink to receive message lines and returns
	// the response the session should send for the DATA command itself
	// (normally 354). An error aborts DATA before the 354 is sent.
	BeginWrite(ctx context.Context) (Response, error)

	// Write receives one already-unstuffed body line, without its
	// trailing CRLF. It is called once per line between the 354 prompt
	// and the terminating "." line.
	Write(ctx context.Context, line []byte) error

	// EndWrite is called after the terminating "." line is seen and
	// returns the final response for the transaction (normally 250).
	EndWrite(ctx context.Context) (Response, error)

	// Close releases any resources held by the sink. It is always called,
	// even after EndWrite, and must be safe to call more than once.
	Close() error
}

// MessageStoreFactory creates a MessageStore scoped to one transaction's
// DATA phase.
type MessageStoreFactory interface {
	Create(ctx context.Context, session SessionInfo, envelope Envelope) (MessageStore, error)
}

// StorageReceipt describes a message that a MessageStore has committed,
// for use by implementations that want to report back after EndWrite.
type StorageReceipt struct {
	// MessageID is a unique identifier assigned by the storage backend.
	// This may differ from the EnvelopeID.
	MessageID StorageMessageID

	// EnvelopeID is the original envelope identifier.
	EnvelopeID EnvelopeID

	// StoredAt is the time the message was stored.
	StoredAt Timestamp

	// BytesWritten is the number of bytes stored.
	BytesWritten ByteCount
}

// StorageMessageID is the identifier assigned by the storage backend.
type StorageMessageID = string

// Timestamp represents a Unix timestamp.
type Timestamp = int64

// ByteCount represents a count of bytes.
type ByteCount = int64

// StorageError represents an error from a MessageStore implementation.
type StorageError struct {
	// Operation is the storage operation that failed.
	Operation StorageOperation

	// EnvelopeID is the envelope that was being stored.
	EnvelopeID EnvelopeID

	// Cause is the underlying error.
	Cause error

	// Retryable indicates whether the operation may succeed if retried.
	Retryable bool

	// Message is a human-readable error message.
	Message string
}

// StorageOperation identifies a storage operation.
type StorageOperation = string

const (
	// StorageOpBeginWrite is the BeginWrite operation.
	StorageOpBeginWrite StorageOperation = "BeginWrite"

	// StorageOpWrite is the Write operation.
	StorageOpWrite StorageOperation = "Write"

	// StorageOpEndWrite is the EndWrite operation.
	StorageOpEndWrite StorageOperation = "EndWrite"
)

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// StorageMetrics provides storage statistics.
type StorageMetrics struct {
	// MessagesStored is the total number of messages stored.
	MessagesStored CounterValue

	// BytesStored is the total bytes stored.
	BytesStored CounterValue

	// StoreErrors is the count of failed store operations.
	StoreErrors CounterValue
}

// CounterValue is a monotonically increasing counter.
type CounterValue = uint64

// NullMessageStoreFactory produces MessageStore sinks that discard every
// line written to them. Useful for tests or hosts that don't need
// durable storage.
type NullMessageStoreFactory struct{}

// Create returns a sink that discards all writes.
func (NullMessageStoreFactory) Create(context.Context, SessionInfo, Envelope) (MessageStore, error) {
	return &nullMessageStore{}, nil
}

type nullMessageStore struct {
	lines int
}

func (s *nullMessageStore) BeginWrite(context.Context) (Response, error) {
	return ResponseStartMailInput, nil
}

func (s *nullMessageStore) Write(_ context.Context, _ []byte) error {
	s.lines++
	return nil
}

func (s *nullMessageStore) EndWrite(context.Context) (Response, error) {
	return ResponseOK, nil
}

func (s *nullMessageStore) Close() error {
	return nil
}
