package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/NicolasHaas/chatrelay/pkg/crypto"
	"github.com/NicolasHaas/chatrelay/pkg/logging"
	"github.com/NicolasHaas/chatrelay/pkg/model"
	"github.com/NicolasHaas/chatrelay/pkg/protocol"
)

// MessageLog persists chat lines and renders room history.
type MessageLog interface {
	SaveMessage(ctx context.Context, roomID, nickname, text string) error
	LoadHistory(ctx context.Context, roomID string, limit int) (string, error)
}

// BanList is the banned-nickname store. It must be safe for concurrent use.
type BanList interface {
	IsBanned(ctx context.Context, nickname string) (bool, error)
	AddBan(ctx context.Context, nickname, reason, bannedBy string) error
}

// Credentials holds the two accepted secrets, each plaintext or a bcrypt hash.
type Credentials struct {
	Admin string
	User  string
}

// Handshaker drives sessions from accept to admission.
type Handshaker struct {
	creds       Credentials
	bans        BanList
	registry    *Registry
	broadcaster *Broadcaster
	metrics     *Metrics
	timeout     time.Duration
	log         *slog.Logger
}

// NewHandshaker creates a handshake controller. A zero timeout disables the
// handshake deadline.
func NewHandshaker(creds Credentials, bans BanList, registry *Registry, broadcaster *Broadcaster, metrics *Metrics, timeout time.Duration) *Handshaker {
	return &Handshaker{
		creds:       creds,
		bans:        bans,
		registry:    registry,
		broadcaster: broadcaster,
		metrics:     metrics,
		timeout:     timeout,
		log:         logging.Component("handshake"),
	}
}

// Run performs the handshake. On success the session is a member of the
// returned room and the join has been announced. On failure the session has
// been sent the explanatory marker where possible and closed.
func (h *Handshaker) Run(ctx context.Context, sess *Session) (*Room, error) {
	room, err := h.run(ctx, sess)
	if err != nil {
		sess.Close()
		return nil, err
	}
	return room, nil
}

func (h *Handshaker) run(ctx context.Context, sess *Session) (*Room, error) {
	if h.timeout > 0 {
		_ = sess.conn.SetReadDeadline(time.Now().Add(h.timeout))
	}

	// AWAIT_PASSWORD
	sess.setState(StateAwaitPassword)
	reply, err := h.prompt(sess, protocol.MarkerPassword)
	if err != nil {
		return nil, err
	}
	admin, ok := h.classify(reply)
	if !ok {
		h.count(func(m *Metrics) { m.FailedAuths.Add(1) })
		h.refuse(sess, StateRefused, protocol.MarkerRefused)
		return nil, ErrAuthFailure
	}
	sess.admin = admin

	// AWAIT_NICKNAME
	sess.setState(StateAwaitNickname)
	reply, err = h.prompt(sess, protocol.MarkerNickname)
	if err != nil {
		return nil, err
	}
	nick := reply
	if admin {
		nick = model.AdminNickname
	} else if err := model.ValidateNickname(nick); err != nil {
		h.refuse(sess, StateRefused, protocol.MarkerRefused)
		return nil, fmt.Errorf("%w: nickname %q: %w", ErrMalformedInput, nick, err)
	}

	banned, err := h.bans.IsBanned(ctx, nick)
	if err != nil {
		h.refuse(sess, StateRefused, protocol.MarkerRefused)
		return nil, fmt.Errorf("server: handshake: ban lookup: %w", err)
	}
	if banned {
		h.count(func(m *Metrics) { m.BannedRejects.Add(1) })
		h.refuse(sess, StateBanned, protocol.MarkerBanned)
		return nil, fmt.Errorf("%w: %s", ErrBannedUser, nick)
	}
	sess.nickname = nick

	// AWAIT_ROOM
	sess.setState(StateAwaitRoom)
	reply, err = h.prompt(sess, protocol.MarkerRoom)
	if err != nil {
		return nil, err
	}
	roomID, err := model.NormalizeRoomID(reply)
	if err != nil {
		h.refuse(sess, StateRefused, protocol.MarkerRefused)
		return nil, fmt.Errorf("%w: room %q: %w", ErrMalformedInput, reply, err)
	}

	room := h.registry.GetOrCreate(roomID)
	h.registry.Join(room, sess)
	sess.setState(StateAdmitted)

	// ADMITTED
	if err := sess.SendString(protocol.Connected(room.ID)); err != nil {
		h.registry.Remove(room, sess)
		return nil, fmt.Errorf("server: handshake: send %s: %w", protocol.ConnectedPrefix, err)
	}
	if h.timeout > 0 {
		_ = sess.conn.SetReadDeadline(time.Time{})
	}

	h.count(func(m *Metrics) { m.SuccessfulAuths.Add(1) })
	h.log.Info("session admitted", "nick", nick, "room", room.ID, "admin", admin, "session", sess.ID)
	h.broadcaster.BroadcastString(room, protocol.JoinNotice(nick, room.ID))
	return room, nil
}

// prompt sends marker and returns the trimmed reply.
func (h *Handshaker) prompt(sess *Session, marker string) (string, error) {
	if err := sess.SendString(marker); err != nil {
		return "", fmt.Errorf("server: handshake: send %s: %w", marker, err)
	}
	msg, err := sess.conn.Recv()
	if err != nil {
		return "", fmt.Errorf("server: handshake: read reply in %s: %w", sess.State(), err)
	}
	return strings.TrimSpace(string(msg)), nil
}

// classify reports whether the credential is accepted and whether it is the
// admin one.
func (h *Handshaker) classify(credential string) (admin, ok bool) {
	switch {
	case crypto.MatchCredential(h.creds.Admin, credential):
		return true, true
	case crypto.MatchCredential(h.creds.User, credential):
		return false, true
	default:
		return false, false
	}
}

func (h *Handshaker) refuse(sess *Session, state HandshakeState, marker string) {
	sess.setState(state)
	_ = sess.SendString(marker)
}

func (h *Handshaker) count(fn func(*Metrics)) {
	if h.metrics != nil {
		fn(h.metrics)
	}
}
