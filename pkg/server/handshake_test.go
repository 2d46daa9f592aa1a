package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/chatrelay/pkg/crypto"
)

var testCreds = Credentials{Admin: "admin123", User: "chat@123"}

func newTestHandshaker(r *relay, timeout time.Duration) *Handshaker {
	return NewHandshaker(testCreds, r.store, r.registry, r.broadcaster, r.metrics, timeout)
}

func TestHandshake(t *testing.T) {
	t.Parallel()

	type tcase struct {
		inbound   []string
		banned    []string
		wantErr   error
		wantState HandshakeState
		wantRoom  string
		wantNick  string
		wantSent  []string
	}

	tcases := map[string]tcase{
		"user_admitted": {
			inbound:   []string{"chat@123", "bob", "r1"},
			wantState: StateAdmitted,
			wantRoom:  "r1",
			wantNick:  "bob",
			wantSent:  []string{"PASS", "NICK", "ROOM", "CONNECTED|r1", "bob joined room r1."},
		},
		"admin_nickname_forced": {
			inbound:   []string{"admin123", "mallory", "ops"},
			wantState: StateAdmitted,
			wantRoom:  "ops",
			wantNick:  "admin",
			wantSent:  []string{"PASS", "NICK", "ROOM", "CONNECTED|ops", "admin joined room ops."},
		},
		"empty_room_is_general": {
			inbound:   []string{"chat@123", "bob", ""},
			wantState: StateAdmitted,
			wantRoom:  "general",
			wantNick:  "bob",
			wantSent:  []string{"PASS", "NICK", "ROOM", "CONNECTED|general", "bob joined room general."},
		},
		"whitespace_room_is_general": {
			inbound:   []string{"chat@123\r\n", " bob ", "   \t"},
			wantState: StateAdmitted,
			wantRoom:  "general",
			wantNick:  "bob",
			wantSent:  []string{"PASS", "NICK", "ROOM", "CONNECTED|general", "bob joined room general."},
		},
		"wrong_credential": {
			inbound:   []string{"letmein", "bob", "r1"},
			wantErr:   ErrAuthFailure,
			wantState: StateRefused,
			wantSent:  []string{"PASS", "refused"},
		},
		"empty_credential": {
			inbound:   []string{""},
			wantErr:   ErrAuthFailure,
			wantState: StateRefused,
			wantSent:  []string{"PASS", "refused"},
		},
		"banned_nickname": {
			inbound:   []string{"chat@123", "mallory", "r1"},
			banned:    []string{"mallory"},
			wantErr:   ErrBannedUser,
			wantState: StateBanned,
			wantSent:  []string{"PASS", "NICK", "BAN"},
		},
		"invalid_nickname": {
			inbound:   []string{"chat@123", "bad nick", "r1"},
			wantErr:   ErrMalformedInput,
			wantState: StateRefused,
			wantSent:  []string{"PASS", "NICK", "refused"},
		},
		"reserved_nickname": {
			inbound:   []string{"chat@123", "admin", "r1"},
			wantErr:   ErrMalformedInput,
			wantState: StateRefused,
			wantSent:  []string{"PASS", "NICK", "refused"},
		},
		"invalid_room": {
			inbound:   []string{"chat@123", "bob", "a|b"},
			wantErr:   ErrMalformedInput,
			wantState: StateRefused,
			wantSent:  []string{"PASS", "NICK", "ROOM", "refused"},
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			r := newRelay(t)
			for _, n := range tc.banned {
				r.store.banned[n] = true
			}
			conn := newFakeConn(tc.inbound...)
			sess := NewSession(conn)

			room, err := newTestHandshaker(r, time.Second).Run(context.Background(), sess)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Run err = %v, want %v", err, tc.wantErr)
			}
			if diff := cmp.Diff(tc.wantSent, conn.sent()); diff != "" {
				t.Errorf("sent mismatch (-want +got):\n%s", diff)
			}
			if got := sess.State(); got != tc.wantState {
				t.Errorf("State = %v, want %v", got, tc.wantState)
			}

			if tc.wantErr != nil {
				if room != nil {
					t.Errorf("Run returned room %q on failure", room.ID)
				}
				if !conn.isClosed() {
					t.Errorf("connection left open after failed handshake")
				}
				for _, info := range r.registry.Rooms() {
					if len(info.Members) != 0 {
						t.Errorf("room %q has members %v after failed handshake", info.ID, info.Members)
					}
				}
				return
			}

			if room == nil || room.ID != tc.wantRoom {
				t.Fatalf("Run room = %v, want %q", room, tc.wantRoom)
			}
			if sess.Nickname() != tc.wantNick {
				t.Errorf("Nickname = %q, want %q", sess.Nickname(), tc.wantNick)
			}
			members := r.registry.Members(room)
			if len(members) != 1 || members[0] != sess {
				t.Errorf("room members = %v, want exactly the session", nicknames(members))
			}
			if conn.isClosed() {
				t.Errorf("admitted session connection closed")
			}
		})
	}
}

func TestHandshakeBannedNeverReachesRoomPrompt(t *testing.T) {
	t.Parallel()
	r := newRelay(t)
	r.store.banned["eve"] = true
	conn := newFakeConn("chat@123", "eve", "r1")

	_, err := newTestHandshaker(r, time.Second).Run(context.Background(), NewSession(conn))
	if !errors.Is(err, ErrBannedUser) {
		t.Fatalf("Run err = %v, want ErrBannedUser", err)
	}
	if n := count(conn.sent(), "ROOM"); n != 0 {
		t.Errorf("banned session was prompted for a room %d times", n)
	}
	if got := r.metrics.BannedRejects.Load(); got != 1 {
		t.Errorf("BannedRejects = %d, want 1", got)
	}
}

func TestHandshakeHashedCredentials(t *testing.T) {
	t.Parallel()
	adminHash, err := crypto.HashCredential("s3cret-admin")
	if err != nil {
		t.Fatalf("HashCredential: %v", err)
	}
	r := newRelay(t)
	h := NewHandshaker(Credentials{Admin: adminHash, User: "chat@123"}, r.store, r.registry, r.broadcaster, r.metrics, time.Second)

	sess := NewSession(newFakeConn("s3cret-admin", "whoever", "ops"))
	if _, err := h.Run(context.Background(), sess); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sess.IsAdmin() || sess.Nickname() != "admin" {
		t.Errorf("session admin=%v nick=%q, want admin", sess.IsAdmin(), sess.Nickname())
	}
}

func TestHandshakeTransportFailure(t *testing.T) {
	t.Parallel()
	r := newRelay(t)
	conn := newFakeConn("chat@123")
	conn.hangup()
	sess := NewSession(conn)

	_, err := newTestHandshaker(r, time.Second).Run(context.Background(), sess)
	if err == nil {
		t.Fatalf("Run succeeded on a closed connection")
	}
	if !conn.isClosed() || sess.State() != StateClosed {
		t.Errorf("closed=%v state=%v after transport failure", conn.isClosed(), sess.State())
	}
}

func TestHandshakeTimeout(t *testing.T) {
	t.Parallel()
	r := newRelay(t)
	conn := newFakeConn("chat@123") // never sends a nickname
	sess := NewSession(conn)

	start := time.Now()
	_, err := newTestHandshaker(r, 50*time.Millisecond).Run(context.Background(), sess)
	if !errors.Is(err, errTimeout) {
		t.Fatalf("Run err = %v, want timeout", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("handshake deadline not enforced")
	}
	if !conn.isClosed() {
		t.Errorf("connection left open after timeout")
	}
}

func TestHandshakeStateString(t *testing.T) {
	want := map[HandshakeState]string{
		StateAwaitPassword: "AWAIT_PASSWORD",
		StateAwaitNickname: "AWAIT_NICKNAME",
		StateAwaitRoom:     "AWAIT_ROOM",
		StateAdmitted:      "ADMITTED",
		StateRefused:       "REFUSED",
		StateBanned:        "BANNED",
		StateClosed:        "CLOSED",
		HandshakeState(42): "UNKNOWN",
	}
	for st, s := range want {
		if st.String() != s {
			t.Errorf("%d.String() = %q, want %q", st, st.String(), s)
		}
	}
}
