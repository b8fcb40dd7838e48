package smtpd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/haldane-labs/smtpd/dns"
)

// Endpoint is a (host, port) pair a Server listens on.
type Endpoint struct {
	Host string
	Port int
}

// String returns the endpoint in net.Listen's "host:port" form.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ServerOptions configures a Server.
type ServerOptions struct {
	// ServerName is the hostname used in greetings and Received headers.
	ServerName Hostname

	// Endpoints lists the (ip, port) pairs to listen on. Each endpoint
	// runs its own accept loop, in parallel with the others.
	Endpoints []Endpoint

	// Limits contains resource limits applied to every session.
	Limits SessionLimits

	// Extensions specifies which SMTP extensions are enabled. SIZE is
	// forced on automatically when Limits.MaxMessageSize is set.
	Extensions ExtensionSet

	// MailboxFilterFactory creates the per-transaction MailboxFilter. If
	// nil, every sender and recipient is accepted.
	MailboxFilterFactory MailboxFilterFactory

	// MessageStoreFactory creates the per-transaction MessageStore. If
	// nil, message bodies are discarded.
	MessageStoreFactory MessageStoreFactory

	// EnvelopeFactory creates envelope builders. If nil, the default is used.
	EnvelopeFactory EnvelopeFactory

	// Hooks provides session lifecycle callbacks, including the
	// SessionCreated/SessionCompleted observer points (OnConnect/OnDisconnect).
	Hooks SessionHooks

	// Logger receives session and server log events. If nil, logging is disabled.
	Logger Logger

	// Resolver resolves reverse-DNS names for connecting clients. If nil,
	// PTR lookups are skipped.
	Resolver dns.Resolver

	// ConnectionPolicy is consulted before a session's greeting is sent.
	// If nil, every connection is accepted.
	ConnectionPolicy ConnectionPolicy
}

// sessionConfig builds the SessionConfig shared across every connection
// the server accepts.
func (o ServerOptions) sessionConfig() SessionConfig {
	ext := o.Extensions
	if o.Limits.MaxMessageSize > 0 {
		ext.SIZE = true
	}
	return SessionConfig{
		ServerHostname:       o.ServerName,
		Limits:               o.Limits,
		MailboxFilterFactory: o.MailboxFilterFactory,
		MessageStoreFactory:  o.MessageStoreFactory,
		EnvelopeFactory:      o.EnvelopeFactory,
		Extensions:           ext,
		Hooks:                o.Hooks,
		Logger:               o.Logger,
		Resolver:             o.Resolver,
		ConnectionPolicy:     o.ConnectionPolicy,
	}
}

// Server accepts SMTP connections on one or more endpoints. Each
// connection is handed to its own Session goroutine; a sync.Map keyed by
// session ID tracks the sessions currently in flight, with insertion on
// accept and removal on task completion.
type Server struct {
	opts   ServerOptions
	config SessionConfig
	logger Logger

	mu        sync.Mutex
	listeners []net.Listener

	sessions sync.Map // SessionID -> *Engine
	wg       sync.WaitGroup
}

// NewServer creates a Server from opts. Call ListenAndServe to start accepting.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = NullLogger{}
	}
	return &Server{
		opts:   opts,
		config: opts.sessionConfig(),
		logger: logger,
	}
}

// ListenAndServe opens a net.Listener for every configured endpoint and
// runs one accept loop per endpoint, in parallel, until ctx is cancelled.
// It returns once every accept loop has exited; it does not wait for
// sessions already in flight — use Shutdown for that.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if len(s.opts.Endpoints) == 0 {
		return errors.New("smtpd: no endpoints configured")
	}

	for _, ep := range s.opts.Endpoints {
		ln, err := net.Listen("tcp", ep.String())
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("smtpd: listen %s: %w", ep, err)
		}
		s.mu.Lock()
		s.listeners = append(s.listeners, ln)
		s.mu.Unlock()
	}

	stop := context.AfterFunc(ctx, s.closeListeners)
	defer stop()

	var loopWG sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	s.mu.Lock()
	listeners := append([]net.Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, ln := range listeners {
		loopWG.Add(1)
		go func(ln net.Listener) {
			defer loopWG.Done()
			if err := s.acceptLoop(ctx, ln); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(ln)
	}

	loopWG.Wait()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (s *Server) closeListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ln := range s.listeners {
		ln.Close()
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn(ctx, "accept error", Attr(AttrError, err))
			continue
		}

		s.wg.Add(1)
		go s.serve(ctx, conn)
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	engine := NewEngineWithConn(WrapNetConn(conn), s.config)
	s.sessions.Store(engine.ID(), engine)
	defer s.sessions.Delete(engine.ID())

	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn(ctx, "session ended with error",
			Attr(AttrSessionID, engine.ID()), Attr(AttrError, err))
	}
}

// Shutdown closes every listener and blocks until every tracked session
// has exited, or ctx is cancelled first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeListeners()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sessions returns the session IDs currently in flight.
func (s *Server) Sessions() []SessionID {
	var ids []SessionID
	s.sessions.Range(func(key, _ any) bool {
		ids = append(ids, key.(SessionID))
		return true
	})
	return ids
}
