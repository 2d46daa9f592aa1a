package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// DefaultMaxMessage is the largest message a peer may send in one delivery unit.
const DefaultMaxMessage = 1024

var ErrMessageTooLarge = errors.New("protocol: message too large")

// Conn is one client connection as seen by the relay. Send is safe for
// concurrent use; Recv must only be called from the connection's own goroutine.
type Conn interface {
	Send(msg []byte) error
	Recv() ([]byte, error)
	SetReadDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// Framing selects how messages are delimited on a stream socket.
type Framing int

const (
	// FramingLine delimits messages with '\n'.
	FramingLine Framing = iota
	// FramingRaw treats every read as one message and writes messages unterminated.
	FramingRaw
)

func (f Framing) String() string {
	if f == FramingRaw {
		return "raw"
	}
	return "line"
}

// ParseFraming converts "line" or "raw" to a Framing.
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "line":
		return FramingLine, nil
	case "raw":
		return FramingRaw, nil
	default:
		return FramingLine, fmt.Errorf("protocol: unknown framing %q (valid: line, raw)", s)
	}
}

// StreamOptions configures a StreamConn.
type StreamOptions struct {
	Framing      Framing
	MaxMessage   int           // 0 = DefaultMaxMessage
	WriteTimeout time.Duration // 0 = no write deadline
}

// StreamConn adapts a net.Conn (plain TCP or TLS) to Conn.
type StreamConn struct {
	conn net.Conn
	opts StreamOptions

	scanner *bufio.Scanner // line framing only
	buf     []byte         // raw framing only

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewStreamConn wraps conn. The StreamConn owns conn from now on.
func NewStreamConn(conn net.Conn, opts StreamOptions) *StreamConn {
	if opts.MaxMessage <= 0 {
		opts.MaxMessage = DefaultMaxMessage
	}
	c := &StreamConn{conn: conn, opts: opts}
	if opts.Framing == FramingLine {
		c.scanner = bufio.NewScanner(conn)
		// +2 leaves room for a trailing "\r\n" on a maximum-size line
		c.scanner.Buffer(make([]byte, 0, min(512, opts.MaxMessage+2)), opts.MaxMessage+2)
	} else {
		c.buf = make([]byte, opts.MaxMessage)
	}
	return c
}

// Recv returns the next message with trailing CR/LF removed. A clean close
// by the peer is reported as io.EOF.
func (c *StreamConn) Recv() ([]byte, error) {
	if c.scanner != nil {
		if c.scanner.Scan() {
			return trimEOL(bytes.Clone(c.scanner.Bytes())), nil
		}
		if err := c.scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return nil, ErrMessageTooLarge
			}
			return nil, err
		}
		return nil, io.EOF
	}

	for {
		n, err := c.conn.Read(c.buf)
		if n > 0 {
			return trimEOL(bytes.Clone(c.buf[:n])), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Send writes one message, holding the write lock so concurrent senders never
// interleave. In line framing a '\n' terminator is appended.
func (c *StreamConn) Send(msg []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.opts.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			return fmt.Errorf("protocol: set write deadline: %w", err)
		}
	}
	out := msg
	if c.opts.Framing == FramingLine {
		out = make([]byte, 0, len(msg)+1)
		out = append(out, msg...)
		out = append(out, '\n')
	}
	if _, err := c.conn.Write(out); err != nil {
		return fmt.Errorf("protocol: write: %w", err)
	}
	return nil
}

// SetReadDeadline bounds the next Recv. The zero time clears the deadline.
func (c *StreamConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// RemoteAddr returns the peer address.
func (c *StreamConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Close closes the underlying connection. Only the first call has an effect.
func (c *StreamConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func trimEOL(b []byte) []byte {
	return bytes.TrimRight(b, "\r\n")
}

// IsClosed reports whether err means the peer went away or the connection was
// closed locally, as opposed to a protocol violation.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || isWSClose(err) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "use of closed network connection") ||
		strings.Contains(s, "tls: use of closed connection") ||
		strings.Contains(s, "connection reset by peer") ||
		strings.Contains(s, "broken pipe")
}
