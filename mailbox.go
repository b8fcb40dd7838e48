package smtpd

import "context"

// FilterResult is the verdict a MailboxFilter returns for a sender or
// recipient check.
type FilterResult int

const (
	// FilterYes accepts the address.
	FilterYes FilterResult = iota

	// FilterNoTemporarily rejects the address with a 4xx, retryable reply.
	FilterNoTemporarily

	// FilterNoPermanently rejects the address with a 5xx, non-retryable reply.
	FilterNoPermanently

	// FilterSizeLimitExceeded rejects a MAIL FROM whose declared SIZE
	// parameter exceeds the configured maximum.
	FilterSizeLimitExceeded
)

// String returns a human-readable name for the filter result.
func (r FilterResult) String() string {
	switch r {
	case FilterYes:
		return "Yes"
	case FilterNoTemporarily:
		return "NoTemporarily"
	case FilterNoPermanently:
		return "NoPermanently"
	case FilterSizeLimitExceeded:
		return "SizeLimitExceeded"
	default:
		return "Unknown"
	}
}

// ToResponse maps a filter result to the reply it produces for the verb
// that requested the check. MAIL FROM and RCPT TO share the same
// FilterResult vocabulary but use different reply codes on rejection.
func (r FilterResult) ToResponse(verb CommandVerb) Response {
	switch r {
	case FilterYes:
		return ResponseOK
	case FilterSizeLimitExceeded:
		return NewResponse(Reply452InsufficientStorage, "message exceeds size limit")
	case FilterNoTemporarily:
		if verb == CmdMAIL {
			return NewResponse(Reply450MailboxUnavailable, "sender rejected")
		}
		return NewResponse(Reply450MailboxUnavailable, "recipient rejected")
	case FilterNoPermanently:
		if verb == CmdMAIL {
			return NewResponse(Reply550MailboxUnavailable, "sender rejected")
		}
		return NewResponse(Reply550MailboxUnavailable, "recipient rejected")
	default:
		return ResponseLocalError
	}
}

// MailboxFilter is the host-supplied collaborator consulted during MAIL
// FROM and RCPT TO processing. One instance is created per transaction via
// MailboxFilterFactory and is owned by the command that created it:
// callers must release it (if it implements io.Closer) once the
// transaction it was created for ends, on every exit path.
type MailboxFilter interface {
	// CanAcceptFrom decides whether a MAIL FROM sender is acceptable.
	// declaredSize is the SIZE= parameter value, or 0 if the client did
	// not send one.
	CanAcceptFrom(ctx context.Context, sender MailPath, declaredSize int64, session SessionInfo) (FilterResult, error)

	// CanDeliverTo decides whether a RCPT TO recipient is acceptable
	// given the sender already established for this transaction.
	CanDeliverTo(ctx context.Context, recipient MailPath, sender MailPath, session SessionInfo) (FilterResult, error)
}

// MailboxFilterFactory creates a MailboxFilter scoped to one transaction.
type MailboxFilterFactory interface {
	Create(ctx context.Context, session SessionInfo) (MailboxFilter, error)
}

// SessionInfo provides read-only information about the current session.
// This is passed to MailboxFilter implementations for policy decisions.
type SessionInfo interface {
	// ID returns the session identifier.
	ID() SessionID

	// State returns the current session state.
	State() State

	// ClientHostname returns the hostname from HELO/EHLO.
	ClientHostname() Hostname

	// ClientIP returns the client's IP address.
	ClientIP() IPAddress

	// ClientPTR returns the reverse-DNS name of the client IP, if one was
	// resolved. Empty if no PTR record was found or resolution is disabled.
	ClientPTR() Hostname

	// Authenticated returns true if the client has authenticated.
	Authenticated() bool

	// AuthenticatedUser returns the authenticated username, if any.
	AuthenticatedUser() Username

	// CurrentMailFrom returns the current envelope sender, if in a transaction.
	CurrentMailFrom() *MailPath

	// CurrentRecipientCount returns the number of accepted recipients so far.
	CurrentRecipientCount() RecipientCount
}

// MailboxExtended provides additional optional operations beyond basic
// filtering: existence checks for VRFY and status for diagnostics.
type MailboxExtended interface {
	MailboxFilter

	// Exists checks if a mailbox exists without full validation.
	// May be used for VRFY command if enabled.
	Exists(ctx context.Context, address EmailAddress) (bool, error)

	// CanReceive checks if the mailbox can currently receive mail.
	// This may check quotas, account status, etc.
	CanReceive(ctx context.Context, address EmailAddress) (bool, MailboxStatus, error)
}

// MailboxStatus indicates the status of a mailbox.
type MailboxStatus int

const (
	// MailboxStatusOK indicates the mailbox can receive mail.
	MailboxStatusOK MailboxStatus = iota

	// MailboxStatusNotFound indicates the mailbox does not exist.
	MailboxStatusNotFound

	// MailboxStatusDisabled indicates the mailbox is disabled.
	MailboxStatusDisabled

	// MailboxStatusOverQuota indicates the mailbox is over quota.
	MailboxStatusOverQuota

	// MailboxStatusTemporarilyUnavailable indicates a transient error.
	MailboxStatusTemporarilyUnavailable
)

// String returns a human-readable status description.
func (s MailboxStatus) String() string {
	switch s {
	case MailboxStatusOK:
		return "OK"
	case MailboxStatusNotFound:
		return "NotFound"
	case MailboxStatusDisabled:
		return "Disabled"
	case MailboxStatusOverQuota:
		return "OverQuota"
	case MailboxStatusTemporarilyUnavailable:
		return "TemporarilyUnavailable"
	default:
		return "Unknown"
	}
}

// ToFilterResult maps a mailbox status to the FilterResult a MailboxFilter
// should return for it.
func (s MailboxStatus) ToFilterResult() FilterResult {
	switch s {
	case MailboxStatusOK:
		return FilterYes
	case MailboxStatusNotFound, MailboxStatusDisabled:
		return FilterNoPermanently
	case MailboxStatusOverQuota:
		return FilterSizeLimitExceeded
	case MailboxStatusTemporarilyUnavailable:
		return FilterNoTemporarily
	default:
		return FilterNoTemporarily
	}
}

// AcceptAllFilter is a MailboxFilter that accepts every sender and
// recipient unconditionally. Useful for testing or open-relay scenarios
// (use with caution).
type AcceptAllFilter struct{}

// CanAcceptFrom accepts all senders unconditionally.
func (AcceptAllFilter) CanAcceptFrom(_ context.Context, _ MailPath, _ int64, _ SessionInfo) (FilterResult, error) {
	return FilterYes, nil
}

// CanDeliverTo accepts all recipients unconditionally.
func (AcceptAllFilter) CanDeliverTo(_ context.Context, _ MailPath, _ MailPath, _ SessionInfo) (FilterResult, error) {
	return FilterYes, nil
}

// RejectAllFilter is a MailboxFilter that rejects every sender and
// recipient unconditionally. Useful for testing.
type RejectAllFilter struct{}

// CanAcceptFrom rejects all senders unconditionally.
func (RejectAllFilter) CanAcceptFrom(_ context.Context, _ MailPath, _ int64, _ SessionInfo) (FilterResult, error) {
	return FilterNoPermanently, nil
}

// CanDeliverTo rejects all recipients unconditionally.
func (RejectAllFilter) CanDeliverTo(_ context.Context, _ MailPath, _ MailPath, _ SessionInfo) (FilterResult, error) {
	return FilterNoPermanently, nil
}

// staticFilterFactory adapts a single MailboxFilter value into a
// MailboxFilterFactory that returns it for every transaction. Used by
// AcceptAllFilter/RejectAllFilter and simple hosts that have no
// per-transaction state to construct.
type staticFilterFactory struct {
	filter MailboxFilter
}

// NewStaticFilterFactory wraps filter in a MailboxFilterFactory that
// returns the same instance for every transaction.
func NewStaticFilterFactory(filter MailboxFilter) MailboxFilterFactory {
	return staticFilterFactory{filter: filter}
}

func (f staticFilterFactory) Create(context.Context, SessionInfo) (MailboxFilter, error) {
	return f.filter, nil
}
