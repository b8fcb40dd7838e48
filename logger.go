package smtpd

import (
	"context"
	"io"
	"log/slog"
)

// Logger defines the logging interface for smtpd.
// Implementations may wrap slog, zap, zerolog, or any logging framework.
type Logger interface {
	// Debug logs a debug message with optional attributes.
	Debug(ctx context.Context, msg string, attrs ...LogAttr)

	// Info logs an informational message.
	Info(ctx context.Context, msg string, attrs ...LogAttr)

	// Warn logs a warning message.
	Warn(ctx context.Context, msg string, attrs ...LogAttr)

	// Error logs an error message.
	Error(ctx context.Context, msg string, attrs ...LogAttr)

	// WithAttrs returns a new Logger with the given attributes added.
	WithAttrs(attrs ...LogAttr) Logger

	// WithSession returns a new Logger with session context.
	WithSession(sessionID SessionID) Logger
}

// LogAttr is a key-value pair for structured logging.
type LogAttr struct {
	Key   LogAttrKey
	Value LogAttrValue
}

// LogAttrKey is the key of a log attribute.
type LogAttrKey = string

// LogAttrValue is the value of a log attribute.
type LogAttrValue = any

// Attr creates a log attribute.
func Attr(key LogAttrKey, value LogAttrValue) LogAttr {
	return LogAttr{Key: key, Value: value}
}

// Common attribute keys.
const (
	AttrSessionID   LogAttrKey = "session_id"
	AttrClientIP    LogAttrKey = "client_ip"
	AttrClientPTR   LogAttrKey = "client_ptr"
	AttrCommand     LogAttrKey = "command"
	AttrState       LogAttrKey = "state"
	AttrError       LogAttrKey = "error"
	AttrReplyCode   LogAttrKey = "reply_code"
	AttrMailFrom    LogAttrKey = "mail_from"
	AttrRcptTo      LogAttrKey = "rcpt_to"
	AttrMessageSize LogAttrKey = "message_size"
	AttrRecipients  LogAttrKey = "recipients"
	AttrDuration    LogAttrKey = "duration_ms"
	AttrEnvelopeID  LogAttrKey = "envelope_id"
)

// LogLevel represents a logging level.
type LogLevel int

const (
	// LogLevelDebug is the debug level.
	LogLevelDebug LogLevel = iota

	// LogLevelInfo is the info level.
	LogLevelInfo

	// LogLevelWarn is the warning level.
	LogLevelWarn

	// LogLevelError is the error level.
	LogLevelError
)

// String returns the level name.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NullLogger is a Logger that discards all messages.
type NullLogger struct{}

func (NullLogger) Debug(_ context.Context, _ string, _ ...LogAttr) {}
func (NullLogger) Info(_ context.Context, _ string, _ ...LogAttr)  {}
func (NullLogger) Warn(_ context.Context, _ string, _ ...LogAttr)  {}
func (NullLogger) Error(_ context.Context, _ string, _ ...LogAttr) {}
func (n NullLogger) WithAttrs(_ ...LogAttr) Logger                 { return n }
func (n NullLogger) WithSession(_ SessionID) Logger                { return n }

// SlogLogger adapts a log/slog.Logger to the Logger interface.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps an existing slog.Logger.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

// NewJSONLogger creates a SlogLogger writing JSON lines to w at the given level.
func NewJSONLogger(w io.Writer, level LogLevel) *SlogLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level.slogLevel()})
	return &SlogLogger{logger: slog.New(handler)}
}

// NewTextLogger creates a SlogLogger writing human-readable lines to w at
// the given level.
func NewTextLogger(w io.Writer, level LogLevel) *SlogLogger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.slogLevel()})
	return &SlogLogger{logger: slog.New(handler)}
}

func toSlogArgs(attrs []LogAttr) []any {
	args := make([]any, 0, len(attrs)*2)
	for _, a := range attrs {
		if err, ok := a.Value.(error); ok {
			args = append(args, a.Key, err.Error())
			continue
		}
		args = append(args, a.Key, a.Value)
	}
	return args
}

// Debug logs a debug message.
func (l *SlogLogger) Debug(ctx context.Context, msg string, attrs ...LogAttr) {
	l.logger.DebugContext(ctx, msg, toSlogArgs(attrs)...)
}

// Info logs an info message.
func (l *SlogLogger) Info(ctx context.Context, msg string, attrs ...LogAttr) {
	l.logger.InfoContext(ctx, msg, toSlogArgs(attrs)...)
}

// Warn logs a warning message.
func (l *SlogLogger) Warn(ctx context.Context, msg string, attrs ...LogAttr) {
	l.logger.WarnContext(ctx, msg, toSlogArgs(attrs)...)
}

// Error logs an error message.
func (l *SlogLogger) Error(ctx context.Context, msg string, attrs ...LogAttr) {
	l.logger.ErrorContext(ctx, msg, toSlogArgs(attrs)...)
}

// WithAttrs returns a new logger with added attributes.
func (l *SlogLogger) WithAttrs(attrs ...LogAttr) Logger {
	return &SlogLogger{logger: l.logger.With(toSlogArgs(attrs)...)}
}

// WithSession returns a new logger with session context.
func (l *SlogLogger) WithSession(sessionID SessionID) Logger {
	return l.WithAttrs(Attr(AttrSessionID, sessionID))
}

// TranscriptLogger logs the raw SMTP conversation.
// This is useful for debugging and testing.
type TranscriptLogger interface {
	// LogInput logs input from the client.
	LogInput(data []byte)

	// LogOutput logs output to the client.
	LogOutput(data []byte)
}

// WriterTranscriptLogger writes transcripts to an io.Writer.
type WriterTranscriptLogger struct {
	Writer io.Writer
}

// LogInput logs client input.
func (l *WriterTranscriptLogger) LogInput(data []byte) {
	l.Writer.Write([]byte("C: "))
	l.Writer.Write(data)
}

// LogOutput logs server output.
func (l *WriterTranscriptLogger) LogOutput(data []byte) {
	l.Writer.Write([]byte("S: "))
	l.Writer.Write(data)
}
