package smtpd

import (
	"bytes"
	"errors"
	"strings"
)

// Parser errors.
var (
	// ErrEmptyCommand indicates an empty command line.
	ErrEmptyCommand = errors.New("empty command")

	// ErrInvalidCommand indicates an unrecognized command.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = errors.New("missing required argument")

	// ErrUnexpectedArgument indicates an argument was provided when not allowed.
	ErrUnexpectedArgument = errors.New("unexpected argument")

	// ErrInvalidPath indicates an invalid mail path.
	ErrInvalidPath = errors.New("invalid mail path")

	// ErrInvalidAddress indicates an invalid email address.
	ErrInvalidAddress = errors.New("invalid email address")

	// ErrMissingColon indicates missing colon in MAIL/RCPT command.
	ErrMissingColon = errors.New("missing colon after FROM or TO")

	// ErrInvalidSyntax indicates general syntax error.
	ErrInvalidSyntax = errors.New("syntax error")
)

// ParseError contains details about a parsing error.
type ParseError struct {
	// Err is the underlying error.
	Err error

	// Position is the byte position where the error occurred.
	Position ParsePosition

	// Context is additional context about the error.
	Context string

	// Input is the original input that failed to parse.
	Input string
}

// ParsePosition is a position in the input.
type ParsePosition = int

func (e *ParseError) Error() string {
	if e.Context != "" {
		return e.Err.Error() + ": " + e.Context
	}
	return e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser parses SMTP commands using the tokenizer and grammar recognizers
// in token.go/grammar.go. It holds no state of its own beyond its
// configured limits, so one Parser may be shared across sessions.
type Parser struct {
	// MaxCommandLength is the maximum allowed command line length.
	MaxCommandLength CommandLength
}

// NewParser creates a new parser with default settings.
func NewParser() *Parser {
	return &Parser{
		MaxCommandLength: 512, // RFC 5321
	}
}

// ParseCommand parses a single SMTP command line.
// The input should include the trailing CRLF.
func (p *Parser) ParseCommand(line []byte) (*Command, error) {
	if p.MaxCommandLength > 0 && len(line) > p.MaxCommandLength {
		return nil, &ParseError{
			Err:   ErrCommandTooLong,
			Input: string(line),
		}
	}

	line = bytes.TrimSuffix(line, []byte("\r\n"))
	line = bytes.TrimSuffix(line, []byte("\n"))

	if len(line) == 0 {
		return nil, &ParseError{Err: ErrEmptyCommand}
	}

	verb, arg := splitCommand(line)

	cmdVerb := ParseCommandVerb(string(verb))
	if cmdVerb == CmdUnknown {
		return nil, &ParseError{
			Err:     ErrInvalidCommand,
			Input:   string(line),
			Context: string(verb),
		}
	}

	argStr := strings.TrimSpace(string(arg))

	if CommandRequiresArgument(cmdVerb) && argStr == "" {
		return nil, &ParseError{
			Err:     ErrMissingArgument,
			Context: cmdVerb.String() + " requires an argument",
		}
	}

	if CommandForbidsArgument(cmdVerb) && argStr != "" {
		return nil, &ParseError{
			Err:     ErrUnexpectedArgument,
			Context: cmdVerb.String() + " does not accept arguments",
		}
	}

	cmd := &Command{
		Verb:     cmdVerb,
		Raw:      string(line),
		Argument: argStr,
	}

	if cmdVerb == CmdMAIL || cmdVerb == CmdRCPT {
		params, err := parseESMTPParams(argStr)
		if err == nil {
			cmd.Params = params
		}
	}

	return cmd, nil
}

// splitCommand splits a command line into verb and argument parts.
func splitCommand(line []byte) (verb []byte, arg []byte) {
	idx := bytes.IndexByte(line, ' ')
	if idx == -1 {
		return line, nil
	}
	return line[:idx], line[idx+1:]
}

// parseESMTPParams tokenizes the argument remainder after the path's
// closing ">" and runs ParseMailParameters over it.
func parseESMTPParams(arg string) (ESMTPParams, error) {
	closeIdx := strings.Index(arg, ">")
	if closeIdx == -1 {
		return nil, nil
	}
	remainder := strings.TrimSpace(arg[closeIdx+1:])
	if remainder == "" {
		return nil, nil
	}
	e := NewLineEnumerator(remainder)
	return ParseMailParameters(e), nil
}

// ParseMailPath parses a mail path from MAIL FROM or RCPT TO arguments
// using the RFC 5321 grammar recognizers. Input should be "FROM:<path>"
// or "TO:<path>", with ESMTP parameters trailing after the closing ">".
func ParseMailPath(arg string, prefix string) (*MailPath, error) {
	arg = strings.TrimSpace(arg)

	upperArg := strings.ToUpper(arg)
	if !strings.HasPrefix(upperArg, prefix+":") {
		return nil, &ParseError{
			Err:     ErrMissingColon,
			Context: "expected " + prefix + ":",
			Input:   arg,
		}
	}

	pathPart := strings.TrimSpace(arg[len(prefix)+1:])
	return extractPath(pathPart, prefix)
}

// extractPath parses the "<path>" production (and trailing parameters, if
// any, which it ignores — callers parse those separately) out of s.
// prefix selects the grammar: "FROM" accepts the null reverse-path "<>",
// "TO" does not — RFC 5321 has no null forward-path.
func extractPath(s string, prefix string) (*MailPath, error) {
	s = strings.TrimSpace(s)

	e := NewLineEnumerator(s)

	var path *MailPath
	var ok bool
	if prefix == "FROM" {
		path, ok = ParseReversePath(e)
	} else {
		path, ok = ParseForwardPath(e)
	}
	if !ok {
		if !strings.HasPrefix(s, "<") {
			return nil, &ParseError{
				Err:     ErrInvalidPath,
				Context: "path must start with <",
				Input:   s,
			}
		}
		if !strings.Contains(s, ">") {
			return nil, &ParseError{
				Err:     ErrInvalidPath,
				Context: "path must end with >",
				Input:   s,
			}
		}
		return nil, &ParseError{
			Err:     ErrInvalidAddress,
			Context: "invalid address format",
			Input:   s,
		}
	}

	return path, nil
}

// ParseHeloHostname validates a HELO/EHLO hostname using the Domain/
// address-literal grammar.
func ParseHeloHostname(arg string) (Hostname, error) {
	hostname := strings.TrimSpace(arg)
	if hostname == "" {
		return "", &ParseError{
			Err:     ErrMissingArgument,
			Context: "hostname required",
		}
	}

	e := NewLineEnumerator(hostname)
	domain, ok := tryDomain(e)
	if !ok || !e.AtEnd() {
		return "", &ParseError{
			Err:     ErrInvalidSyntax,
			Context: "invalid hostname",
			Input:   hostname,
		}
	}

	return domain, nil
}

func isAlphanumeric(c rune) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
