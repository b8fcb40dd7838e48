package smtpd

import (
	"strconv"
	"time"
)

// Envelope represents the sender/recipient metadata of a single SMTP mail
// transaction — what RFC 5321 and spec discussions alike call the
// "envelope", distinct from the message content streamed during DATA. An
// envelope exists from the moment MAIL FROM is accepted and is passed to
// MessageStoreFactory.Create once DATA begins; it never carries the
// message body itself, which flows to the MessageStore sink one line at a
// time.
type Envelope interface {
	// ID returns a unique identifier for this envelope.
	ID() EnvelopeID

	// MailFrom returns the reverse-path (sender) of this envelope.
	MailFrom() MailPath

	// Recipients returns all accepted forward-paths (recipients).
	Recipients() []MailPath

	// RecipientCount returns the number of accepted recipients.
	RecipientCount() RecipientCount

	// ESMTPParams returns the ESMTP parameters from the MAIL command.
	ESMTPParams() ESMTPParams

	// DeclaredSize returns the SIZE parameter value if provided, or 0.
	DeclaredSize() MessageSize

	// ReceivedAt returns the time the envelope was created (MAIL FROM accepted).
	ReceivedAt() time.Time

	// IsFinalized returns true if the envelope has at least one recipient
	// and is ready for DATA.
	IsFinalized() bool

	// Metadata returns session metadata associated with this envelope.
	Metadata() EnvelopeMetadata
}

// EnvelopeID is a unique identifier for an envelope.
type EnvelopeID = string

// RecipientCount is the number of recipients in an envelope.
type RecipientCount = int

// MessageSize is the size of a message in bytes.
type MessageSize = int64

// EnvelopeMetadata contains session information associated with an envelope.
type EnvelopeMetadata struct {
	// SessionID is the identifier of the session that created this envelope.
	SessionID SessionID

	// ClientHostname is the hostname provided in HELO/EHLO.
	ClientHostname Hostname

	// ClientIP is the IP address of the client.
	ClientIP IPAddress

	// ClientPTR is the reverse-DNS name of the client IP, if resolved.
	ClientPTR Hostname

	// ServerHostname is this server's hostname.
	ServerHostname Hostname

	// AuthenticatedUser is the username if authentication succeeded.
	AuthenticatedUser Username
}

// SessionID is a unique identifier for an SMTP session.
type SessionID = string

// IPAddress represents an IP address as a string.
type IPAddress = string

// Username represents an authenticated username.
type Username = string

// EnvelopeBuilder provides methods for constructing an envelope during a transaction.
type EnvelopeBuilder interface {
	// SetMailFrom sets the reverse-path and ESMTP parameters.
	SetMailFrom(path MailPath, params ESMTPParams) error

	// AddRecipient adds a forward-path to the envelope.
	AddRecipient(path MailPath) error

	// Finalize marks the envelope as complete and ready for DATA.
	// After finalization, no further modifications are allowed.
	Finalize() (Envelope, error)

	// Reset clears the envelope builder for reuse.
	Reset()

	// Build returns the current envelope state without finalizing.
	// Useful for inspection during the transaction.
	Build() Envelope
}

// EnvelopeFactory creates new envelope builders.
type EnvelopeFactory interface {
	// NewBuilder creates a new envelope builder with the given metadata.
	NewBuilder(metadata EnvelopeMetadata) EnvelopeBuilder
}

// declaredSize parses the SIZE= ESMTP parameter, returning 0 if absent or
// unparseable.
func declaredSize(params ESMTPParams) MessageSize {
	if params == nil {
		return 0
	}
	raw, ok := params["SIZE"]
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// StandardEnvelope is the default implementation of Envelope.
type StandardEnvelope struct {
	id          EnvelopeID
	mailFrom    MailPath
	recipients  []MailPath
	esmtpParams ESMTPParams
	receivedAt  time.Time
	finalized   bool
	metadata    EnvelopeMetadata
}

// ID returns the envelope identifier.
func (e *StandardEnvelope) ID() EnvelopeID {
	return e.id
}

// MailFrom returns the reverse-path.
func (e *StandardEnvelope) MailFrom() MailPath {
	return e.mailFrom
}

// Recipients returns all forward-paths.
func (e *StandardEnvelope) Recipients() []MailPath {
	result := make([]MailPath, len(e.recipients))
	copy(result, e.recipients)
	return result
}

// RecipientCount returns the number of recipients.
func (e *StandardEnvelope) RecipientCount() RecipientCount {
	return len(e.recipients)
}

// ESMTPParams returns the ESMTP parameters.
func (e *StandardEnvelope) ESMTPParams() ESMTPParams {
	return e.esmtpParams
}

// DeclaredSize returns the SIZE parameter value.
func (e *StandardEnvelope) DeclaredSize() MessageSize {
	return declaredSize(e.esmtpParams)
}

// ReceivedAt returns the creation time.
func (e *StandardEnvelope) ReceivedAt() time.Time {
	return e.receivedAt
}

// IsFinalized returns whether the envelope is finalized.
func (e *StandardEnvelope) IsFinalized() bool {
	return e.finalized
}

// Metadata returns the envelope metadata.
func (e *StandardEnvelope) Metadata() EnvelopeMetadata {
	return e.metadata
}

// RecipientStatus represents the acceptance status of a recipient.
type RecipientStatus int

const (
	// RecipientPending indicates the recipient has not been validated.
	RecipientPending RecipientStatus = iota

	// RecipientAccepted indicates the recipient was accepted.
	RecipientAccepted

	// RecipientRejected indicates the recipient was rejected.
	RecipientRejected

	// RecipientDeferred indicates the recipient check was deferred.
	RecipientDeferred
)

// RecipientResult contains the result of validating a recipient.
type RecipientResult struct {
	// Path is the recipient address.
	Path MailPath

	// Status is the validation status.
	Status RecipientStatus

	// Response is the SMTP response to send.
	Response Response
}
