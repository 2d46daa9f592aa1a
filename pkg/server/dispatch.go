package server

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/NicolasHaas/chatrelay/pkg/logging"
	"github.com/NicolasHaas/chatrelay/pkg/model"
	"github.com/NicolasHaas/chatrelay/pkg/protocol"
	"github.com/NicolasHaas/chatrelay/pkg/rbac"
)

// Dispatcher runs the steady-state loop of admitted sessions.
type Dispatcher struct {
	registry     *Registry
	broadcaster  *Broadcaster
	messages     MessageLog
	bans         BanList
	metrics      *Metrics
	historyLimit int
	log          *slog.Logger
}

// NewDispatcher creates a command dispatcher. metrics may be nil.
func NewDispatcher(registry *Registry, broadcaster *Broadcaster, messages MessageLog, bans BanList, metrics *Metrics, historyLimit int) *Dispatcher {
	return &Dispatcher{
		registry:     registry,
		broadcaster:  broadcaster,
		messages:     messages,
		bans:         bans,
		metrics:      metrics,
		historyLimit: historyLimit,
		log:          logging.Component("dispatch"),
	}
}

// Serve reads messages from sess until the connection fails or closes, then
// removes the session from its room and announces the departure. Departures
// are not announced once ctx is cancelled.
func (d *Dispatcher) Serve(ctx context.Context, sess *Session) {
	defer d.cleanup(ctx, sess)

	for {
		msg, err := sess.conn.Recv()
		if err != nil {
			if !protocol.IsClosed(err) {
				d.log.Debug("read error", "nick", sess.Nickname(), "session", sess.ID, "err", err)
			}
			return
		}
		if len(bytes.TrimSpace(msg)) == 0 {
			continue
		}
		if err := d.Handle(ctx, sess, msg); err != nil {
			d.log.Debug("command rejected", "nick", sess.Nickname(), "err", err)
		}
	}
}

// Handle processes one message from sess. The returned error is local to the
// session and never ends it.
func (d *Dispatcher) Handle(ctx context.Context, sess *Session, msg []byte) error {
	room, _, ok := d.registry.FindSession(sess)
	if !ok {
		return nil
	}

	cmd := protocol.ParseCommand(msg)
	switch cmd.Kind {
	case protocol.CommandKick:
		return d.Kick(ctx, sess, room, cmd.Target)
	case protocol.CommandBan:
		return d.Ban(ctx, sess, room, cmd.Target)
	case protocol.CommandHistory:
		return d.History(ctx, sess, room)
	default:
		return d.Chat(ctx, sess, room, cmd.Raw)
	}
}

// Kick removes the member named target from room. Only admins may kick.
func (d *Dispatcher) Kick(ctx context.Context, issuer *Session, room *Room, target string) error {
	if err := d.authorize(issuer, model.PermKickUser); err != nil {
		return err
	}
	if target == "" {
		_ = issuer.SendString(protocol.UsageNotice(protocol.KeywordKick))
		return fmt.Errorf("%w: kick without target", ErrMalformedMessage)
	}
	if !d.kick(room, target) {
		_ = issuer.SendString(protocol.NotFoundNotice(target, room.ID))
		return fmt.Errorf("%w: %s in %s", ErrTargetNotFound, target, room.ID)
	}
	d.log.Info("user kicked", "target", target, "room", room.ID, "by", issuer.Nickname())
	return nil
}

// Ban kicks target from room and records the nickname on the ban list. The
// ban is recorded even when target is not present in the room.
func (d *Dispatcher) Ban(ctx context.Context, issuer *Session, room *Room, target string) error {
	if err := d.authorize(issuer, model.PermBanUser); err != nil {
		return err
	}
	if target == "" {
		_ = issuer.SendString(protocol.UsageNotice(protocol.KeywordBan))
		return fmt.Errorf("%w: ban without target", ErrMalformedMessage)
	}
	if target == model.AdminNickname {
		_ = issuer.SendString(protocol.NoticeProtected)
		return ErrProtectedTarget
	}

	d.kick(room, target)
	if err := d.bans.AddBan(ctx, target, "", issuer.Nickname()); err != nil {
		d.log.Error("failed to record ban", "target", target, "err", err)
		return fmt.Errorf("server: ban %s: %w", target, err)
	}
	if d.metrics != nil {
		d.metrics.BanCount.Add(1)
	}
	_ = issuer.SendString(protocol.BannedNotice(target))
	d.log.Info("user banned", "target", target, "room", room.ID, "by", issuer.Nickname())
	return nil
}

// kick removes the target from the room, tells it why, closes it and
// announces the kick. It reports whether the target was present.
func (d *Dispatcher) kick(room *Room, target string) bool {
	victim, ok := d.registry.RemoveNickname(room, target)
	if !ok {
		return false
	}
	victim.kicked.Store(true)
	_ = victim.SendString(protocol.NoticeKicked)
	victim.Close()
	if d.metrics != nil {
		d.metrics.KickCount.Add(1)
	}
	d.broadcaster.BroadcastString(room, protocol.KickedNotice(target))
	return true
}

// History sends the room's recent messages to the requester only.
func (d *Dispatcher) History(ctx context.Context, sess *Session, room *Room) error {
	if err := d.authorize(sess, model.PermReadHistory); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.HistoryRequests.Add(1)
	}
	text, err := d.messages.LoadHistory(ctx, room.ID, d.historyLimit)
	if err != nil {
		d.log.Error("failed to load history", "room", room.ID, "err", err)
		_ = sess.SendString(protocol.NoticeHistoryErr)
		return fmt.Errorf("server: history %s: %w", room.ID, err)
	}
	return sess.SendString(text)
}

// Chat saves a "<nick> : <text>" line and broadcasts its room-tagged copy.
// Anything else is broadcast unchanged.
func (d *Dispatcher) Chat(ctx context.Context, sess *Session, room *Room, raw []byte) error {
	if err := d.authorize(sess, model.PermChat); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.ChatMessagesRelayed.Add(1)
	}

	nick, text, ok := protocol.ParseChatLine(string(raw))
	if !ok {
		d.broadcaster.Broadcast(room, raw)
		return fmt.Errorf("%w: relayed unchanged", ErrMalformedMessage)
	}

	if err := d.messages.SaveMessage(ctx, room.ID, nick, text); err != nil {
		d.log.Error("failed to save message", "room", room.ID, "nick", nick, "err", err)
	}
	d.broadcaster.BroadcastString(room, protocol.FormatRoomChat(room.ID, nick, text))
	return nil
}

func (d *Dispatcher) authorize(sess *Session, perm model.Permission) error {
	if rbac.HasPermission(sess.Role(), perm) {
		return nil
	}
	if d.metrics != nil {
		d.metrics.PrivilegeRefusals.Add(1)
	}
	_ = sess.SendString(protocol.NoticeNotAdmin)
	return fmt.Errorf("%w: %s", ErrPrivilege, rbac.RequirePermission(sess.Role(), perm))
}

// cleanup runs once when the session's loop ends.
func (d *Dispatcher) cleanup(ctx context.Context, sess *Session) {
	room := d.registry.LastRoom(sess)
	if room != nil {
		d.registry.Remove(room, sess)
	}
	sess.Close()

	if d.metrics != nil {
		d.metrics.TotalDisconnects.Add(1)
	}
	if room == nil || sess.kicked.Load() || ctx.Err() != nil {
		return
	}
	d.log.Info("session left", "nick", sess.Nickname(), "room", room.ID, "session", sess.ID)
	d.broadcaster.BroadcastString(room, protocol.LeftNotice(sess.Nickname()))
}
