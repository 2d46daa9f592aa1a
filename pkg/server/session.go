package server

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasHaas/chatrelay/pkg/model"
	"github.com/NicolasHaas/chatrelay/pkg/protocol"
)

// HandshakeState is the position of a Session in the admission state machine.
type HandshakeState int32

const (
	StateAwaitPassword HandshakeState = iota
	StateAwaitNickname
	StateAwaitRoom
	StateAdmitted
	StateRefused
	StateBanned
	StateClosed
)

func (s HandshakeState) String() string {
	switch s {
	case StateAwaitPassword:
		return "AWAIT_PASSWORD"
	case StateAwaitNickname:
		return "AWAIT_NICKNAME"
	case StateAwaitRoom:
		return "AWAIT_ROOM"
	case StateAdmitted:
		return "ADMITTED"
	case StateRefused:
		return "REFUSED"
	case StateBanned:
		return "BANNED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Session is one connected client. The connection is owned by the session;
// the current room is tracked by the Registry.
type Session struct {
	ID          string
	conn        protocol.Conn
	connectedAt time.Time

	// nickname and admin are written by the handshake before the session is
	// published to the Registry and are read-only afterwards.
	nickname string
	admin    bool

	state  atomic.Int32
	kicked atomic.Bool

	// room and joinSeq are guarded by the Registry lock.
	room     *Room
	lastRoom *Room
	joinSeq  uint64

	closeOnce sync.Once
}

// NewSession wraps an accepted connection.
func NewSession(conn protocol.Conn) *Session {
	return &Session{
		ID:          uuid.NewString(),
		conn:        conn,
		connectedAt: time.Now(),
	}
}

// Nickname returns the nickname assigned during the handshake.
func (s *Session) Nickname() string { return s.nickname }

// IsAdmin reports whether the session authenticated with the admin credential.
func (s *Session) IsAdmin() bool { return s.admin }

// Role maps the admin flag onto a role for permission checks.
func (s *Session) Role() model.Role { return model.RoleFor(s.admin) }

// State returns the current handshake state.
func (s *Session) State() HandshakeState { return HandshakeState(s.state.Load()) }

func (s *Session) setState(st HandshakeState) { s.state.Store(int32(st)) }

// RemoteAddr returns the peer address of the connection.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr() }

// Send delivers one message to the client.
func (s *Session) Send(msg []byte) error {
	return s.conn.Send(msg)
}

// SendString delivers one text message to the client.
func (s *Session) SendString(msg string) error {
	return s.conn.Send([]byte(msg))
}

// Close closes the connection. Only the first call has an effect. REFUSED and
// BANNED are kept as the final state.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
		for {
			cur := s.state.Load()
			if st := HandshakeState(cur); st == StateRefused || st == StateBanned {
				return
			}
			if s.state.CompareAndSwap(cur, int32(StateClosed)) {
				return
			}
		}
	})
}

// SessionManager tracks every live session, handshaking or admitted.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session // sessionID -> session
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
	}
}

// Add registers a session.
func (sm *SessionManager) Add(sess *Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sessions[sess.ID] = sess
}

// Get retrieves a session by ID.
func (sm *SessionManager) Get(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// Remove removes a session.
func (sm *SessionManager) Remove(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, id)
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// All returns all live sessions (snapshot), oldest connection first.
func (sm *SessionManager) All() []*Session {
	sm.mu.RLock()
	result := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		result = append(result, s)
	}
	sm.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].connectedAt.Before(result[j].connectedAt)
	})
	return result
}
