// Package wire implements the newline-delimited transport shared by the
// submission and mailbox-access protocols, including the switch from
// plain text to an encrypted line encoding mid-session.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxLineLength bounds a single protocol line before decoding.
const MaxLineLength = 64 * 1024

var (
	// ErrLineTooLong is returned when a peer sends a line over MaxLineLength.
	ErrLineTooLong = errors.New("line too long")
	// ErrDecode wraps failures of the active codec to decode a line.
	ErrDecode = errors.New("cannot decode line")
)

// Codec transforms lines on their way to and from the network.
type Codec interface {
	Encode(line string) (string, error)
	Decode(line string) (string, error)
}

type plainCodec struct{}

func (plainCodec) Encode(line string) (string, error) { return line, nil }
func (plainCodec) Decode(line string) (string, error) { return line, nil }

// Plain passes lines through unchanged.
var Plain Codec = plainCodec{}

// Conn reads and writes protocol lines through the active codec.
// It is not safe for concurrent use.
type Conn struct {
	r     *bufio.Reader
	w     *bufio.Writer
	codec Codec
}

// NewConn creates a line transport over r and w using the plain codec.
// Existing buffered readers and writers are reused.
func NewConn(r io.Reader, w io.Writer) *Conn {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
	}
	return &Conn{r: br, w: bw, codec: Plain}
}

// SetCodec switches the line encoding for all following reads and writes.
func (c *Conn) SetCodec(codec Codec) {
	if codec == nil {
		codec = Plain
	}
	c.codec = codec
}

// Codec returns the active codec.
func (c *Conn) Codec() Codec {
	return c.codec
}

// ReadLine reads one line, strips the line terminator and decodes it.
// A final unterminated line is returned before io.EOF.
func (c *Conn) ReadLine() (string, error) {
	raw, err := c.readRaw()
	if err != nil {
		return "", err
	}
	line, err := c.codec.Decode(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return line, nil
}

func (c *Conn) readRaw() (string, error) {
	var sb strings.Builder
	for {
		chunk, err := c.r.ReadSlice('\n')
		if sb.Len()+len(chunk) > MaxLineLength+2 {
			return "", ErrLineTooLong
		}
		sb.Write(chunk)
		switch {
		case err == nil:
			return strings.TrimRight(sb.String(), "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && sb.Len() > 0:
			return strings.TrimRight(sb.String(), "\r\n"), nil
		default:
			return "", err
		}
	}
}

// WriteLine encodes and writes each line, then flushes.
func (c *Conn) WriteLine(lines ...string) error {
	for _, line := range lines {
		enc, err := c.codec.Encode(line)
		if err != nil {
			return err
		}
		if _, err := c.w.WriteString(enc); err != nil {
			return err
		}
		if _, err := c.w.WriteString("\r\n"); err != nil {
			return err
		}
	}
	return c.w.Flush()
}

// IsTerminal reports whether a response line ends a server reply:
// "ok", "ok <detail>" or "error <detail>".
func IsTerminal(line string) bool {
	return line == "ok" || strings.HasPrefix(line, "ok ") || IsError(line)
}

// IsError reports whether a response line is an error reply.
func IsError(line string) bool {
	return line == "error" || strings.HasPrefix(line, "error ")
}
