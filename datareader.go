package smtpd

import "bytes"

// DataLineReader implements the DATA-phase dot-stuffing rules of
// RFC 5321 §4.5.2: the terminator is a line containing only ".", and any
// line beginning with "." has that leading dot doubled on the wire and
// undoubled on receipt.
type DataLineReader struct {
	// MaxLineLength is the maximum line length.
	MaxLineLength LineLength
}

// NewDataLineReader creates a new data line reader.
func NewDataLineReader() *DataLineReader {
	return &DataLineReader{
		MaxLineLength: 998, // RFC 5321
	}
}

// IsTerminator checks if a line is the DATA terminator (single dot).
func (r *DataLineReader) IsTerminator(line []byte) bool {
	line = bytes.TrimSuffix(line, []byte("\r\n"))
	line = bytes.TrimSuffix(line, []byte("\n"))
	return len(line) == 1 && line[0] == '.'
}

// UnstuffLine removes dot-stuffing from a line.
// If the line starts with a dot, the first dot is removed.
func (r *DataLineReader) UnstuffLine(line []byte) []byte {
	if len(line) > 0 && line[0] == '.' {
		return line[1:]
	}
	return line
}

// StuffLine adds dot-stuffing to a line if necessary.
// If the line starts with a dot, a dot is prepended.
func (r *DataLineReader) StuffLine(line []byte) []byte {
	if len(line) > 0 && line[0] == '.' {
		result := make([]byte, len(line)+1)
		result[0] = '.'
		copy(result[1:], line)
		return result
	}
	return line
}
