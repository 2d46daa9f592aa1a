package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// fakeConn is an in-memory protocol.Conn. Inbound messages are queued with
// push; everything the server sends is recorded.
type fakeConn struct {
	in      chan []byte
	closeCh chan struct{}

	mu         sync.Mutex
	out        []string
	sendErr    error
	closed     bool
	closeCount int
	deadline   time.Time
}

func newFakeConn(inbound ...string) *fakeConn {
	c := &fakeConn{
		in:      make(chan []byte, 64),
		closeCh: make(chan struct{}),
	}
	for _, msg := range inbound {
		c.push(msg)
	}
	return c
}

func (c *fakeConn) push(msg string) { c.in <- []byte(msg) }

// hangup makes Recv report EOF once the queued messages are drained.
func (c *fakeConn) hangup() { close(c.in) }

func (c *fakeConn) failSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *fakeConn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.out = append(c.out, string(msg))
	return nil
}

func (c *fakeConn) Recv() ([]byte, error) {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case msg, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-c.closeCh:
		return nil, net.ErrClosed
	case <-timeout:
		return nil, errTimeout
	}
}

var errTimeout = errors.New("fake: i/o timeout")

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake:0" }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	if !c.closed {
		c.closed = true
		close(c.closeCh)
	}
	return nil
}

func (c *fakeConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.out...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

func count(msgs []string, want string) int {
	n := 0
	for _, m := range msgs {
		if m == want {
			n++
		}
	}
	return n
}

// fakeStore implements MessageLog and BanList and records every call.
type fakeStore struct {
	mu         sync.Mutex
	saved      []savedMessage
	saveErr    error
	history    string
	historyErr error
	banned     map[string]bool
	banErr     error
}

type savedMessage struct {
	Room, Nick, Text string
}

func newFakeStore(banned ...string) *fakeStore {
	st := &fakeStore{banned: map[string]bool{}}
	for _, n := range banned {
		st.banned[n] = true
	}
	return st
}

func (s *fakeStore) SaveMessage(_ context.Context, roomID, nickname, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, savedMessage{roomID, nickname, text})
	return s.saveErr
}

func (s *fakeStore) LoadHistory(_ context.Context, roomID string, _ int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyErr != nil {
		return "", s.historyErr
	}
	return s.history + roomID, nil
}

func (s *fakeStore) IsBanned(_ context.Context, nickname string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.banErr != nil {
		return false, s.banErr
	}
	return s.banned[nickname], nil
}

func (s *fakeStore) AddBan(_ context.Context, nickname, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banned[nickname] = true
	return nil
}

func (s *fakeStore) savedMessages() []savedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]savedMessage(nil), s.saved...)
}

func (s *fakeStore) isBanned(nick string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banned[nick]
}

// relay bundles the core components over a fake store.
type relay struct {
	registry    *Registry
	broadcaster *Broadcaster
	dispatcher  *Dispatcher
	metrics     *Metrics
	store       *fakeStore
}

func newRelay(t *testing.T) *relay {
	t.Helper()
	metrics := NewMetrics()
	registry := NewRegistry(metrics)
	broadcaster := NewBroadcaster(registry, metrics)
	st := newFakeStore()
	return &relay{
		registry:    registry,
		broadcaster: broadcaster,
		dispatcher:  NewDispatcher(registry, broadcaster, st, st, metrics, 50),
		metrics:     metrics,
		store:       st,
	}
}

// admit places an already identified session in a room, bypassing the
// handshake.
func (r *relay) admit(nick string, admin bool, roomID string) (*Session, *fakeConn) {
	conn := newFakeConn()
	sess := NewSession(conn)
	sess.nickname = nick
	sess.admin = admin
	sess.setState(StateAdmitted)
	r.registry.Join(r.registry.GetOrCreate(roomID), sess)
	return sess, conn
}

func nicknames(members []*Session) []string {
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Nickname())
	}
	return names
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
