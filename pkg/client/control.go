// Package client implements the chatrelay terminal client: it answers the
// server's handshake prompts, prints room traffic and turns typed lines into
// chat messages or commands.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/NicolasHaas/chatrelay/pkg/protocol"
)

var (
	ErrRefused    = errors.New("client: connection refused by server")
	ErrBanned     = errors.New("client: nickname is banned")
	ErrKicked     = errors.New("client: kicked by the admin")
	ErrUnexpected = errors.New("client: unexpected handshake message")
)

// EventHandler is a callback for messages received after admission.
type EventHandler func(msg string)

// Options describes how to reach the server and who to be.
type Options struct {
	Addr       string
	Credential string
	Nickname   string
	Room       string

	TLS                bool
	InsecureSkipVerify bool // accept self-signed server certificates
	Framing            protocol.Framing
	MaxMessage         int
}

// ControlClient is one connection to a chatrelay server.
type ControlClient struct {
	conn protocol.Conn
	opts Options

	mu      sync.Mutex
	room    string
	handler EventHandler
	kicked  bool
	done    chan struct{}
}

// Dial connects to the server. The handshake is not performed yet.
func Dial(ctx context.Context, opts Options) (*ControlClient, error) {
	var (
		conn net.Conn
		err  error
	)
	if opts.TLS {
		dialer := &tls.Dialer{Config: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed servers
			MinVersion:         tls.VersionTLS13,
		}}
		conn, err = dialer.DialContext(ctx, "tcp", opts.Addr)
	} else {
		var dialer net.Dialer
		conn, err = dialer.DialContext(ctx, "tcp", opts.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("client: connect: %w", err)
	}
	return NewControlClient(protocol.NewStreamConn(conn, protocol.StreamOptions{
		Framing:    opts.Framing,
		MaxMessage: opts.MaxMessage,
	}), opts), nil
}

// NewControlClient wraps an established connection.
func NewControlClient(conn protocol.Conn, opts Options) *ControlClient {
	return &ControlClient{
		conn: conn,
		opts: opts,
		done: make(chan struct{}),
	}
}

// Handshake answers the server's prompts until it is admitted, refused or
// banned, and returns the room it was admitted to.
func (c *ControlClient) Handshake() (string, error) {
	for {
		raw, err := c.conn.Recv()
		if err != nil {
			return "", fmt.Errorf("client: handshake: %w", err)
		}
		msg := strings.TrimSpace(string(raw))

		var reply string
		switch msg {
		case protocol.MarkerPassword:
			reply = c.opts.Credential
		case protocol.MarkerNickname:
			reply = c.opts.Nickname
		case protocol.MarkerRoom:
			reply = c.opts.Room
		case protocol.MarkerRefused:
			_ = c.conn.Close()
			return "", ErrRefused
		case protocol.MarkerBanned:
			_ = c.conn.Close()
			return "", ErrBanned
		default:
			room, ok := protocol.ParseConnected(msg)
			if !ok {
				_ = c.conn.Close()
				return "", fmt.Errorf("%w: %q", ErrUnexpected, msg)
			}
			c.mu.Lock()
			c.room = room
			c.mu.Unlock()
			slog.Debug("admitted", "room", room)
			return room, nil
		}
		if err := c.conn.Send([]byte(reply)); err != nil {
			return "", fmt.Errorf("client: handshake: send reply to %s: %w", msg, err)
		}
	}
}

// SetEventHandler sets the callback for incoming messages.
func (c *ControlClient) SetEventHandler(handler EventHandler) {
	c.handler = handler
}

// Room returns the room the client was admitted to.
func (c *ControlClient) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// SendLine translates a typed line and sends it. Blank lines are ignored.
func (c *ControlClient) SendLine(line string) error {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	return c.conn.Send([]byte(protocol.TranslateInput(c.opts.Nickname, line)))
}

// StartReceiving starts a goroutine that reads incoming messages and passes
// them to the event handler. A kick notice ends the connection.
func (c *ControlClient) StartReceiving() {
	go func() {
		defer close(c.done)
		for {
			raw, err := c.conn.Recv()
			if err != nil {
				if protocol.IsClosed(err) {
					slog.Debug("connection closed")
					return
				}
				slog.Error("read error", "err", err)
				return
			}
			msg := string(raw)
			if c.handler != nil {
				c.handler(msg)
			}
			if strings.HasPrefix(msg, protocol.NoticeKicked) {
				c.mu.Lock()
				c.kicked = true
				c.mu.Unlock()
				_ = c.conn.Close()
				return
			}
		}
	}()
}

// Err reports why the connection ended: ErrKicked after a kick, nil otherwise.
func (c *ControlClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kicked {
		return ErrKicked
	}
	return nil
}

// Close closes the connection.
func (c *ControlClient) Close() error {
	return c.conn.Close()
}

// Done returns a channel that's closed when the connection is lost.
func (c *ControlClient) Done() <-chan struct{} {
	return c.done
}
