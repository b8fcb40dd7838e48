package smtpd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Engine is the core SMTP protocol engine.
// It handles a single SMTP session over a Conn or an io.Reader/io.Writer pair.
type Engine struct {
	config SessionConfig
	conn   Conn // nil when constructed via NewEngine with raw reader/writer
	reader *bufio.Reader
	writer io.Writer
	parser *Parser
	sm     *StateMachine
	state  *SessionState
	stats  SessionStats
	logger Logger

	// Session identification
	sessionID  SessionID
	clientIP   IPAddress
	clientAddr RemoteAddress

	// Current transaction state
	envelope EnvelopeBuilder
	filter   MailboxFilter

	// Synchronization
	mu     sync.Mutex
	closed bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClientIP sets the client IP address.
func WithClientIP(ip IPAddress) EngineOption {
	return func(e *Engine) {
		e.clientIP = ip
	}
}

// WithClientAddr sets the client address.
func WithClientAddr(addr RemoteAddress) EngineOption {
	return func(e *Engine) {
		e.clientAddr = addr
	}
}

// WithSessionID sets a specific session ID.
func WithSessionID(id SessionID) EngineOption {
	return func(e *Engine) {
		e.sessionID = id
	}
}

// NewEngine creates a new SMTP engine over a raw io.Reader/io.Writer pair.
// Callers that have client address information should supply it with
// WithClientAddr/WithClientIP, since r and w carry none. Prefer
// NewEngineWithConn when a Conn is available; it derives this
// automatically and supports read deadlines.
func NewEngine(r io.Reader, w io.Writer, config SessionConfig, opts ...EngineOption) *Engine {
	e := newEngine(config)
	e.reader = bufio.NewReader(r)
	e.writer = w

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// NewEngineWithConn creates a new SMTP engine over a Conn. If conn exposes
// RemoteAddr (as NetConn does), the client address and IP are derived
// automatically; opts may still override them.
func NewEngineWithConn(conn Conn, config SessionConfig, opts ...EngineOption) *Engine {
	e := newEngine(config)
	e.conn = conn
	e.reader = bufio.NewReader(conn)
	e.writer = conn

	if ra, ok := conn.(interface{ RemoteAddr() net.Addr }); ok {
		addr := ra.RemoteAddr()
		e.clientAddr = addr.String()
		if host, _, err := net.SplitHostPort(addr.String()); err == nil {
			e.clientIP = host
		} else {
			e.clientIP = addr.String()
		}
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func newEngine(config SessionConfig) *Engine {
	e := &Engine{
		config:    config,
		parser:    NewParser(),
		sm:        NewStateMachine(),
		state:     &SessionState{State: StateDisconnected},
		stats:     SessionStats{StartTime: time.Now()},
		sessionID: generateSessionID(),
	}

	if config.Logger != nil {
		e.logger = config.Logger.WithSession(e.sessionID)
	} else {
		e.logger = NullLogger{}
	}

	e.parser.MaxCommandLength = config.Limits.MaxCommandLength
	if e.parser.MaxCommandLength == 0 {
		e.parser.MaxCommandLength = 512
	}

	return e
}

// generateSessionID creates a unique, time-ordered session identifier.
func generateSessionID() SessionID {
	return ulid.Make().String()
}

// Run executes the SMTP session.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.checkConnectionPolicy(ctx); err != nil {
		return e.handleDisconnect(ctx, DisconnectPolicyViolation, err)
	}

	// Connect and send greeting
	if err := e.sm.Connect(); err != nil {
		return err
	}

	// Call connect hook
	if e.config.Hooks != nil {
		e.config.Hooks.OnConnect(ctx, e)
	}

	// Send greeting
	greeting := e.buildGreeting()
	if err := e.writeResponse(ctx, greeting); err != nil {
		return e.handleDisconnect(ctx, DisconnectError, err)
	}

	if err := e.sm.Greet(); err != nil {
		return err
	}
	e.state.State = StateGreeted

	e.logger.Info(ctx, "session started",
		Attr(AttrClientIP, e.clientIP),
		Attr(AttrClientPTR, e.state.ClientPTR))

	// Main command loop
	for {
		select {
		case <-ctx.Done():
			return e.handleDisconnect(ctx, DisconnectTimeout, ctx.Err())
		default:
		}

		// Check if we're in a terminal state
		if e.sm.State().IsTerminal() {
			break
		}

		// Set command timeout
		cmdCtx := ctx
		if e.config.Limits.CommandTimeout > 0 {
			var cancel context.CancelFunc
			cmdCtx, cancel = context.WithTimeout(ctx, e.config.Limits.CommandTimeout)
			defer cancel()
		}
		e.applyReadDeadline(e.config.Limits.CommandTimeout)

		// Read and process command
		if err := e.processOneCommand(cmdCtx); err != nil {
			if e.sm.State().IsTerminal() {
				break
			}
			// Check if this is a protocol error vs. I/O error
			if isIOError(err) {
				return e.handleDisconnect(ctx, DisconnectError, err)
			}
			// Protocol errors are handled, continue
		}
	}

	return e.handleDisconnect(ctx, DisconnectNormal, nil)
}

// checkConnectionPolicy resolves the client's PTR name (if a Resolver is
// configured) and consults the host's ConnectionPolicy before any SMTP
// protocol state exists.
func (e *Engine) checkConnectionPolicy(ctx context.Context) error {
	if e.config.Resolver != nil && e.clientIP != "" {
		if ip := net.ParseIP(e.clientIP); ip != nil {
			if names, err := e.config.Resolver.LookupPTR(ctx, ip); err == nil && len(names) > 0 {
				e.state.ClientPTR = names[0]
			}
		}
	}

	policy := e.config.ConnectionPolicy
	if policy == nil {
		policy = AcceptAllConnectionPolicy{}
	}

	info := ConnectionInfo{
		RemoteAddr: e.clientAddr,
		ClientIP:   e.clientIP,
		ClientPTR:  e.state.ClientPTR,
	}

	resp, err := policy.Accept(ctx, info)
	if err != nil {
		if resp.Code != 0 {
			e.writeResponse(ctx, resp)
		} else {
			e.writeResponse(ctx, NewResponse(Reply421ServiceNotAvailable, "Connection refused"))
		}
		return err
	}

	return nil
}

// applyReadDeadline sets the underlying connection's read deadline if the
// engine was constructed with a Conn. No-op for the raw reader/writer path.
func (e *Engine) applyReadDeadline(timeout time.Duration) {
	if e.conn == nil || timeout <= 0 {
		return
	}
	e.conn.SetReadDeadline(time.Now().Add(timeout))
}

// processOneCommand reads and processes a single SMTP command.
func (e *Engine) processOneCommand(ctx context.Context) error {
	// Read command line
	line, err := e.readLine(ctx)
	if err != nil {
		return err
	}

	e.stats.CommandCount++

	// Parse command
	cmd, err := e.parser.ParseCommand(line)
	if err != nil {
		e.state.ConsecutiveErrors++
		if checkErr := e.checkErrorLimit(); checkErr != nil {
			e.writeResponse(ctx, NewResponse(Reply421ServiceNotAvailable, "Too many errors, closing connection"))
			e.sm.Abort()
			return checkErr
		}
		e.writeResponse(ctx, ResponseSyntaxError)
		return err
	}

	e.logger.Debug(ctx, "received command",
		Attr(AttrCommand, cmd.Verb.String()),
		Attr(AttrState, e.sm.State().String()))

	// Call command hook
	if e.config.Hooks != nil {
		if err := e.config.Hooks.OnCommand(ctx, *cmd, e); err != nil {
			e.writeResponse(ctx, ResponseTransactionFailed)
			return err
		}
	}

	// Check if command is allowed in current state
	if !e.sm.IsCommandAllowed(cmd.Verb) {
		e.state.ConsecutiveErrors++
		e.writeResponse(ctx, ResponseBadSequence)
		return nil
	}

	// Handle the command
	response := e.handleCommand(ctx, cmd)

	// Write response
	if err := e.writeResponse(ctx, response); err != nil {
		return err
	}

	// Reset error count on successful command
	if response.Code.IsPositive() {
		e.state.ConsecutiveErrors = 0
	}

	return nil
}

// handleCommand processes a command and returns the response.
func (e *Engine) handleCommand(ctx context.Context, cmd *Command) Response {
	switch cmd.Verb {
	case CmdHELO:
		return e.handleHELO(ctx, cmd)
	case CmdEHLO:
		return e.handleEHLO(ctx, cmd)
	case CmdMAIL:
		return e.handleMAIL(ctx, cmd)
	case CmdRCPT:
		return e.handleRCPT(ctx, cmd)
	case CmdDATA:
		return e.handleDATA(ctx, cmd)
	case CmdRSET:
		return e.handleRSET(ctx, cmd)
	case CmdNOOP:
		return e.handleNOOP(ctx, cmd)
	case CmdQUIT:
		return e.handleQUIT(ctx, cmd)
	case CmdVRFY:
		return e.handleVRFY(ctx, cmd)
	case CmdEXPN:
		return e.handleEXPN(ctx, cmd)
	case CmdHELP:
		return e.handleHELP(ctx, cmd)
	default:
		return ResponseCommandNotImplemented
	}
}

func (e *Engine) handleHELO(ctx context.Context, cmd *Command) Response {
	hostname, err := ParseHeloHostname(cmd.Argument)
	if err != nil {
		return ResponseSyntaxErrorParams
	}

	e.state.ClientHostname = hostname
	e.sm.TransitionForCommand(CmdHELO, true)
	e.state.State = StateIdentified

	// Reset any existing transaction
	e.resetTransaction()

	return NewResponse(Reply250OK, fmt.Sprintf("%s Hello %s", e.config.ServerHostname, hostname))
}

func (e *Engine) handleEHLO(ctx context.Context, cmd *Command) Response {
	hostname, err := ParseHeloHostname(cmd.Argument)
	if err != nil {
		return ResponseSyntaxErrorParams
	}

	e.state.ClientHostname = hostname
	e.sm.TransitionForCommand(CmdEHLO, true)
	e.state.State = StateIdentified

	// Reset any existing transaction
	e.resetTransaction()

	// Build EHLO response with extensions
	lines := []string{fmt.Sprintf("%s Hello %s", e.config.ServerHostname, hostname)}

	ext := e.config.Extensions
	if ext.SIZE && e.config.Limits.MaxMessageSize > 0 {
		lines = append(lines, fmt.Sprintf("SIZE %d", e.config.Limits.MaxMessageSize))
	}
	if ext.EightBitMIME {
		lines = append(lines, "8BITMIME")
	}
	if ext.PIPELINING {
		lines = append(lines, "PIPELINING")
	}
	if ext.ENHANCEDSTATUSCODES {
		lines = append(lines, "ENHANCEDSTATUSCODES")
	}
	if ext.SMTPUTF8 {
		lines = append(lines, "SMTPUTF8")
	}
	if ext.HELP {
		lines = append(lines, "HELP")
	}

	return NewMultilineResponse(Reply250OK, lines...)
}

func (e *Engine) handleMAIL(ctx context.Context, cmd *Command) Response {
	// Check transaction limit
	if e.config.Limits.MaxTransactions > 0 && e.stats.TransactionCount >= e.config.Limits.MaxTransactions {
		return NewResponse(Reply421ServiceNotAvailable, "Too many transactions")
	}

	// Parse the mail path
	path, err := ParseMailPath(cmd.Argument, "FROM")
	if err != nil {
		return ResponseSyntaxErrorParams
	}

	size := declaredSize(cmd.Params)
	if e.config.Extensions.SIZE && e.config.Limits.MaxMessageSize > 0 && size > e.config.Limits.MaxMessageSize {
		return NewResponse(Reply452InsufficientStorage, "Message size exceeds fixed maximum message size")
	}

	filter, resp := e.acquireFilter(ctx)
	if resp != nil {
		return *resp
	}

	result, err := filter.CanAcceptFrom(ctx, *path, size, e)
	if err != nil {
		e.reportError(ctx, "mailbox filter error", err)
		return ResponseLocalError
	}
	if result != FilterYes {
		return result.ToResponse(CmdMAIL)
	}

	// Create new envelope
	metadata := EnvelopeMetadata{
		SessionID:         e.sessionID,
		ClientHostname:    e.state.ClientHostname,
		ClientIP:          e.clientIP,
		ClientPTR:         e.state.ClientPTR,
		ServerHostname:    e.config.ServerHostname,
		AuthenticatedUser: e.state.AuthenticatedUser,
	}

	if e.config.EnvelopeFactory != nil {
		e.envelope = e.config.EnvelopeFactory.NewBuilder(metadata)
	} else {
		e.envelope = NewStandardEnvelopeBuilder(metadata)
	}

	if err := e.envelope.SetMailFrom(*path, cmd.Params); err != nil {
		return ResponseTransactionFailed
	}

	e.sm.TransitionForCommand(CmdMAIL, true)
	e.state.State = StateMailFrom

	if e.config.Hooks != nil {
		e.config.Hooks.OnMailFrom(ctx, *path, e)
	}

	e.logger.Info(ctx, "mail from accepted",
		Attr(AttrMailFrom, path.Address))

	return ResponseOK
}

func (e *Engine) handleRCPT(ctx context.Context, cmd *Command) Response {
	// Parse the recipient path
	path, err := ParseMailPath(cmd.Argument, "TO")
	if err != nil {
		return ResponseSyntaxErrorParams
	}

	// Check recipient limit
	if e.config.Limits.MaxRecipients > 0 {
		if e.envelope.Build().RecipientCount() >= e.config.Limits.MaxRecipients {
			return NewResponse(Reply452InsufficientStorage, "Too many recipients")
		}
	}

	filter, resp := e.acquireFilter(ctx)
	if resp != nil {
		return *resp
	}

	sender := e.envelope.Build().MailFrom()
	result, err := filter.CanDeliverTo(ctx, *path, sender, e)
	if err != nil {
		e.reportError(ctx, "mailbox filter error", err)
		return ResponseLocalError
	}
	if result != FilterYes {
		return result.ToResponse(CmdRCPT)
	}

	// Add recipient to envelope
	if err := e.envelope.AddRecipient(*path); err != nil {
		return ResponseTransactionFailed
	}

	e.sm.TransitionForCommand(CmdRCPT, true)
	e.state.State = StateRcptTo

	if e.config.Hooks != nil {
		e.config.Hooks.OnRcptTo(ctx, *path, e)
	}

	e.logger.Info(ctx, "recipient accepted",
		Attr(AttrRcptTo, path.Address))

	return ResponseOK
}

// acquireFilter lazily creates the transaction's MailboxFilter from the
// configured MailboxFilterFactory. The filter is cached for the lifetime
// of the transaction so MAIL FROM and every RCPT TO share one instance.
func (e *Engine) acquireFilter(ctx context.Context) (MailboxFilter, *Response) {
	if e.filter != nil {
		return e.filter, nil
	}
	if e.config.MailboxFilterFactory == nil {
		e.filter = AcceptAllFilter{}
		return e.filter, nil
	}

	filter, err := e.config.MailboxFilterFactory.Create(ctx, e)
	if err != nil {
		e.reportError(ctx, "mailbox filter factory error", err)
		resp := ResponseLocalError
		return nil, &resp
	}
	e.filter = filter
	return e.filter, nil
}

// releaseFilter releases the transaction's MailboxFilter, if it holds
// resources, and clears it so the next transaction acquires a fresh one.
func (e *Engine) releaseFilter() {
	if closer, ok := e.filter.(io.Closer); ok {
		closer.Close()
	}
	e.filter = nil
}

func (e *Engine) handleDATA(ctx context.Context, cmd *Command) Response {
	if e.envelope == nil || e.envelope.Build().RecipientCount() == 0 {
		return ResponseNoValidRecipients
	}

	e.sm.TransitionForCommand(CmdDATA, true)
	e.state.State = StateData

	if e.config.Hooks != nil {
		e.config.Hooks.OnDataStart(ctx, e)
	}

	envelope, err := e.envelope.Finalize()
	if err != nil {
		e.abortTransaction()
		return NewResponse(Reply451LocalError, "Unable to finalize message")
	}

	var store MessageStore
	if e.config.MessageStoreFactory != nil {
		store, err = e.config.MessageStoreFactory.Create(ctx, e, envelope)
		if err != nil {
			e.abortTransaction()
			e.reportError(ctx, "message store factory error", err)
			return NewResponse(Reply554TransactionFailed, "Unable to accept message")
		}
	} else {
		store, _ = NullMessageStoreFactory{}.Create(ctx, e, envelope)
	}
	defer store.Close()

	beginResp, err := store.BeginWrite(ctx)
	if err != nil {
		e.abortTransaction()
		e.reportError(ctx, "message store begin error", err)
		return NewResponse(Reply554TransactionFailed, "Unable to accept message")
	}
	if err := e.writeResponse(ctx, beginResp); err != nil {
		e.abortTransaction()
		return Response{} // already sent; caller treats this as an I/O error
	}

	e.applyReadDeadline(e.config.Limits.DataTimeout)
	if err := e.streamDataInto(ctx, store); err != nil {
		e.abortTransaction()
		switch {
		case errors.Is(err, ErrMessageTooLarge):
			return NewResponse(Reply452InsufficientStorage, "Message size exceeds limit")
		case errors.Is(err, ErrLineTooLong):
			return NewResponse(Reply500SyntaxError, "Line too long")
		default:
			e.reportError(ctx, "data read error", err)
			return NewResponse(Reply554TransactionFailed, "Error receiving message data")
		}
	}

	resp, err := store.EndWrite(ctx)
	if err != nil {
		e.abortTransaction()
		e.reportError(ctx, "message store commit error", err)
		return NewResponse(Reply554TransactionFailed, "Unable to store message")
	}

	e.stats.MessageCount++
	e.stats.TransactionCount++
	e.stats.RecipientCount += envelope.RecipientCount()

	e.sm.DataComplete()
	e.sm.Reset()
	e.state.State = StateIdentified
	e.envelope = nil
	e.releaseFilter()

	if e.config.Hooks != nil {
		e.config.Hooks.OnDataEnd(ctx, envelope, e)
	}

	e.logger.Info(ctx, "message received",
		Attr(AttrEnvelopeID, envelope.ID()),
		Attr(AttrRecipients, envelope.RecipientCount()))

	return resp
}

// streamDataInto reads message body lines until the DATA terminator,
// unstuffing and forwarding each line to store. A blank line is held back
// rather than written immediately: if it turns out to be the last line
// before the terminator it is dropped, otherwise it is flushed once a
// following line (blank or not) shows it was an intermediate blank.
func (e *Engine) streamDataInto(ctx context.Context, store MessageStore) error {
	reader := NewDataLineReader()
	if e.config.Limits.MaxLineLength > 0 {
		reader.MaxLineLength = e.config.Limits.MaxLineLength
	}

	var total int64
	pendingBlank := false

	flushPendingBlank := func() error {
		if !pendingBlank {
			return nil
		}
		pendingBlank = false
		return store.Write(ctx, nil)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := e.reader.ReadBytes('\n')
		if err != nil {
			return err
		}
		e.stats.BytesRead += int64(len(line))

		if reader.IsTerminator(line) {
			// A pending blank line was the last line of the body; drop it.
			return nil
		}

		if e.config.Limits.MaxLineLength > 0 && len(line) > e.config.Limits.MaxLineLength {
			return ErrLineTooLong
		}

		unstuffed := reader.UnstuffLine(line)
		unstuffed = bytes.TrimSuffix(unstuffed, []byte("\r\n"))
		unstuffed = bytes.TrimSuffix(unstuffed, []byte("\n"))

		if len(unstuffed) == 0 {
			if err := flushPendingBlank(); err != nil {
				return err
			}
			pendingBlank = true
			continue
		}

		if err := flushPendingBlank(); err != nil {
			return err
		}

		total += int64(len(unstuffed))
		if e.config.Limits.MaxMessageSize > 0 && total > e.config.Limits.MaxMessageSize {
			return ErrMessageTooLarge
		}

		if err := store.Write(ctx, unstuffed); err != nil {
			return err
		}
	}
}

func (e *Engine) handleRSET(ctx context.Context, cmd *Command) Response {
	e.resetTransaction()
	e.sm.Reset()
	if e.sm.State() == StateGreeted || e.sm.State() == StateIdentified {
		e.state.State = e.sm.State()
	} else {
		e.state.State = StateIdentified
	}

	return ResponseOK
}

func (e *Engine) handleNOOP(ctx context.Context, cmd *Command) Response {
	return ResponseOK
}

func (e *Engine) handleQUIT(ctx context.Context, cmd *Command) Response {
	e.sm.TransitionForCommand(CmdQUIT, true)
	e.sm.Terminate()
	return ResponseBye
}

func (e *Engine) handleVRFY(ctx context.Context, cmd *Command) Response {
	if !e.config.Extensions.VRFY {
		return ResponseCommandNotImplemented
	}

	// VRFY is often disabled for security reasons
	return NewResponse(Reply252CannotVRFY, "Cannot VRFY user; try RCPT to attempt delivery")
}

func (e *Engine) handleEXPN(ctx context.Context, cmd *Command) Response {
	if !e.config.Extensions.EXPN {
		return ResponseCommandNotImplemented
	}

	// EXPN is disabled for the same reason VRFY is: confirming list
	// membership is a reconnaissance aid for spammers.
	return NewResponse(Reply252CannotVRFY, "Cannot EXPN list; try RCPT to attempt delivery")
}

func (e *Engine) handleHELP(ctx context.Context, cmd *Command) Response {
	if !e.config.Extensions.HELP {
		return ResponseCommandNotImplemented
	}

	return NewMultilineResponse(Reply214HelpMessage,
		"Supported commands:",
		"HELO EHLO MAIL RCPT DATA",
		"RSET NOOP QUIT HELP",
		"For more information, consult RFC 5321",
	)
}

// readLine reads a line from the client.
func (e *Engine) readLine(ctx context.Context) ([]byte, error) {
	line, err := e.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	e.stats.BytesRead += int64(len(line))
	return line, nil
}

// writeResponse writes an SMTP response.
func (e *Engine) writeResponse(ctx context.Context, resp Response) error {
	data := resp.Bytes()
	n, err := e.writer.Write(data)
	e.stats.BytesWritten += int64(n)

	e.logger.Debug(ctx, "sent response",
		Attr(AttrReplyCode, int(resp.Code)))

	return err
}

// resetTransaction resets the current mail transaction.
func (e *Engine) resetTransaction() {
	if e.envelope != nil {
		e.envelope.Reset()
		e.envelope = nil
	}
	e.releaseFilter()
}

// abortTransaction discards the current transaction after a DATA-phase
// failure, returning the session to StateIdentified.
func (e *Engine) abortTransaction() {
	e.sm.Reset()
	e.state.State = StateIdentified
	e.resetTransaction()
}

// reportError logs a collaborator error and notifies SessionHooks.OnError.
func (e *Engine) reportError(ctx context.Context, msg string, err error) {
	e.logger.Error(ctx, msg, Attr(AttrError, err))
	if e.config.Hooks != nil {
		e.config.Hooks.OnError(ctx, err, e)
	}
}

// checkErrorLimit checks if the error limit has been exceeded.
func (e *Engine) checkErrorLimit() error {
	checker := &StandardLimitChecker{Limits: e.config.Limits}
	return checker.CheckErrorCount(e.state.ConsecutiveErrors)
}

// handleDisconnect handles session termination.
func (e *Engine) handleDisconnect(ctx context.Context, reason DisconnectReason, err error) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.stats.EndTime = time.Now()

	if e.config.Hooks != nil {
		e.config.Hooks.OnDisconnect(ctx, e, reason)
	}

	e.logger.Info(ctx, "session ended",
		Attr("reason", reason.String()),
		Attr("commands", e.stats.CommandCount),
		Attr("messages", e.stats.MessageCount))

	return err
}

// buildGreeting builds the initial server greeting.
func (e *Engine) buildGreeting() Response {
	return NewResponse(Reply220ServiceReady, fmt.Sprintf("%s ESMTP", e.config.ServerHostname))
}

// isIOError checks if an error is an I/O error.
func isIOError(err error) bool {
	if err == io.EOF || err == io.ErrUnexpectedEOF || err == io.ErrClosedPipe {
		return true
	}
	if errors.Is(err, ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// SessionInfo interface implementation

func (e *Engine) ID() SessionID            { return e.sessionID }
func (e *Engine) State() State             { return e.state.State }
func (e *Engine) ClientHostname() Hostname { return e.state.ClientHostname }
func (e *Engine) ClientIP() IPAddress      { return e.clientIP }
func (e *Engine) ClientPTR() Hostname      { return e.state.ClientPTR }
func (e *Engine) Authenticated() bool      { return e.state.Authenticated }
func (e *Engine) AuthenticatedUser() Username { return e.state.AuthenticatedUser }
func (e *Engine) CurrentRecipientCount() RecipientCount {
	if e.envelope == nil {
		return 0
	}
	return e.envelope.Build().RecipientCount()
}
func (e *Engine) CurrentMailFrom() *MailPath {
	if e.envelope == nil {
		return nil
	}
	env := e.envelope.Build()
	from := env.MailFrom()
	return &from
}

// Close terminates the session.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.sm.Abort()
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

// Reply code for authentication required, for use by host policies that
// reject a sender or recipient because AUTH has not been completed.
const Reply530AuthRequired ReplyCode = 530
