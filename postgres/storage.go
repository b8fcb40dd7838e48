// Package postgres provides a durable MessageStore backed by
// database/sql and github.com/lib/pq. Finalized envelopes are stored in
// a messages table: sender, recipients, the streamed body, and receipt
// time. This is an example durable sink; smtpd itself stays
// storage-agnostic behind the MessageStore/MessageStoreFactory interfaces.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/haldane-labs/smtpd"
)

// Schema is the DDL for the messages table this package writes to. Hosts
// are expected to run it (or an equivalent migration) once.
const Schema = `
CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	mail_from    TEXT NOT NULL,
	rcpt_to      TEXT NOT NULL,
	client_ip    TEXT,
	client_ptr   TEXT,
	body         BYTEA NOT NULL,
	received_at  TIMESTAMPTZ NOT NULL
);`

// Storage is a smtpd.MessageStoreFactory backed by a Postgres messages
// table.
type Storage struct {
	db *sql.DB
}

var _ smtpd.MessageStoreFactory = (*Storage)(nil)

// Open connects to dbString (see github.com/lib/pq for the connection
// string format) and returns a Storage using it.
func Open(dbString string) (*Storage, error) {
	db, err := sql.Open("postgres", dbString)
	if err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

// New wraps an already-open *sql.DB.
func New(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Healthy pings the database.
func (s *Storage) Healthy(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create returns a sink scoped to envelope that buffers the body and
// commits a row on EndWrite, inside a transaction.
func (s *Storage) Create(ctx context.Context, session smtpd.SessionInfo, envelope smtpd.Envelope) (smtpd.MessageStore, error) {
	return &sink{storage: s, envelope: envelope}, nil
}

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

func (s *sink) EndWrite(ctx context.Context) (smtpd.Response, error) {
	if err := s.commit(ctx); err != nil {
		return smtpd.Response{}, err
	}
	return smtpd.NewResponse(smtpd.Reply250OK, fmt.Sprintf("OK, message %s accepted", s.envelope.ID())), nil
}

func (s *sink) Close() error {
	return nil
}

func (s *sink) commit(ctx context.Context) error {
	tx, err := s.storage.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	recipients := make([]string, 0, s.envelope.RecipientCount())
	for _, r := range s.envelope.Recipients() {
		recipients = append(recipients, r.Address)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, mail_from, rcpt_to, client_ip, client_ptr, body, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.envelope.ID(),
		s.envelope.Metadata().SessionID,
		s.envelope.MailFrom().Address,
		strings.Join(recipients, ","),
		s.envelope.Metadata().ClientIP,
		s.envelope.Metadata().ClientPTR,
		s.buf.Bytes(),
		s.envelope.ReceivedAt().UTC(),
	)
	if err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// StoredMessage is a row read back from the messages table.
type StoredMessage struct {
	ID         smtpd.EnvelopeID
	SessionID  smtpd.SessionID
	MailFrom   smtpd.EmailAddress
	RcptTo     []smtpd.EmailAddress
	ClientIP   smtpd.IPAddress
	ClientPTR  smtpd.Hostname
	Body       []byte
	ReceivedAt time.Time
}

// Get retrieves a stored message by envelope ID.
func (s *Storage) Get(ctx context.Context, id smtpd.EnvelopeID) (*StoredMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, mail_from, rcpt_to, client_ip, client_ptr, body, received_at
		FROM messages WHERE id = $1`, id)

	var msg StoredMessage
	var rcptTo string
	if err := row.Scan(&msg.ID, &msg.SessionID, &msg.MailFrom, &rcptTo,
		&msg.ClientIP, &msg.ClientPTR, &msg.Body, &msg.ReceivedAt); err != nil {
		return nil, err
	}
	if rcptTo != "" {
		msg.RcptTo = strings.Split(rcptTo, ",")
	}
	return &msg, nil
}
