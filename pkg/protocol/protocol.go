// Package protocol defines the chatrelay wire format: handshake markers,
// in-room command keywords, notice texts and the connection framing.
//
// The protocol is plain text. Each transport delivery unit (one read in raw
// framing, one line in line framing, one frame over WebSocket) is one message.
package protocol

import (
	"bytes"
	"fmt"
	"strings"
)

// Handshake markers sent by the server, byte exact.
const (
	MarkerPassword  = "PASS"
	MarkerNickname  = "NICK"
	MarkerRoom      = "ROOM"
	MarkerRefused   = "refused"
	MarkerBanned    = "BAN"
	ConnectedPrefix = "CONNECTED|"
)

// Command keywords recognised in the steady state.
const (
	KeywordKick    = "KICK"
	KeywordBan     = "BAN"
	KeywordHistory = "CMD_HISTORY"
)

// ChatSeparator splits "<nickname> : <text>" chat lines.
const ChatSeparator = " : "

// Fixed notices.
const (
	NoticeKicked     = "You are kicked by the admin"
	NoticeNotAdmin   = "Command refused! You are not admin."
	NoticeShutdown   = "Server is shutting down."
	NoticeHistoryErr = "History is unavailable right now."
	NoticeProtected  = "Command refused! The admin cannot be banned."
)

// Connected returns the admission marker for a room.
func Connected(roomID string) string {
	return ConnectedPrefix + roomID
}

// ParseConnected extracts the room from an admission marker.
func ParseConnected(msg string) (string, bool) {
	room, ok := strings.CutPrefix(msg, ConnectedPrefix)
	if !ok {
		return "", false
	}
	if i := strings.IndexByte(room, '|'); i >= 0 {
		room = room[:i]
	}
	return room, true
}

// JoinNotice is broadcast to a room after a session is admitted.
func JoinNotice(nick, roomID string) string {
	return fmt.Sprintf("%s joined room %s.", nick, roomID)
}

// LeftNotice is broadcast to a room after a member disconnects.
func LeftNotice(nick string) string {
	return nick + " left the chat!"
}

// KickedNotice is broadcast to a room after a member was kicked.
func KickedNotice(nick string) string {
	return nick + " is kicked by the admin"
}

// BannedNotice is sent back to the admin after a ban was recorded.
func BannedNotice(nick string) string {
	return nick + " is banned globally."
}

// NotFoundNotice is sent back to the admin when a kick target is absent.
func NotFoundNotice(nick, roomID string) string {
	return fmt.Sprintf("User '%s' not found in room %s.", nick, roomID)
}

// UsageNotice is sent back when an admin command carries no target.
func UsageNotice(keyword string) string {
	return "Usage: " + keyword + " <nickname>"
}

// CommandKind classifies a steady-state message.
type CommandKind int

const (
	CommandChat CommandKind = iota
	CommandKick
	CommandBan
	CommandHistory
)

func (k CommandKind) String() string {
	switch k {
	case CommandKick:
		return "kick"
	case CommandBan:
		return "ban"
	case CommandHistory:
		return "history"
	default:
		return "chat"
	}
}

// Command is a classified steady-state message.
type Command struct {
	Kind   CommandKind
	Target string // nickname argument of KICK and BAN, trimmed
	Raw    []byte // the message exactly as received
}

// ParseCommand classifies a message in priority order: KICK, BAN,
// CMD_HISTORY, then chat.
func ParseCommand(msg []byte) Command {
	cmd := Command{Kind: CommandChat, Raw: msg}
	switch {
	case hasKeyword(msg, KeywordKick):
		cmd.Kind = CommandKick
		cmd.Target = string(bytes.TrimSpace(msg[len(KeywordKick):]))
	case hasKeyword(msg, KeywordBan):
		cmd.Kind = CommandBan
		cmd.Target = string(bytes.TrimSpace(msg[len(KeywordBan):]))
	case bytes.HasPrefix(msg, []byte(KeywordHistory)):
		cmd.Kind = CommandHistory
	}
	return cmd
}

// hasKeyword matches "KEYWORD" alone or followed by a space.
func hasKeyword(msg []byte, keyword string) bool {
	if !bytes.HasPrefix(msg, []byte(keyword)) {
		return false
	}
	rest := msg[len(keyword):]
	return len(rest) == 0 || rest[0] == ' '
}

// ParseChatLine splits "<nickname> : <text>". Both parts must be non-empty.
func ParseChatLine(msg string) (nick, text string, ok bool) {
	nick, text, found := strings.Cut(msg, ChatSeparator)
	if !found || strings.TrimSpace(nick) == "" || strings.TrimSpace(text) == "" {
		return "", "", false
	}
	return nick, text, true
}

// FormatRoomChat renders the room-tagged copy of a chat line.
func FormatRoomChat(roomID, nick, text string) string {
	return "[" + roomID + "] " + nick + ChatSeparator + text
}

// TranslateInput turns a line typed by a user into the message the client
// sends: slash shorthands become command keywords, anything else is prefixed
// with the nickname.
func TranslateInput(nick, line string) string {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "/history":
		return KeywordHistory
	case strings.HasPrefix(trimmed, "/kick "):
		return KeywordKick + " " + strings.TrimSpace(trimmed[len("/kick "):])
	case strings.HasPrefix(trimmed, "/ban "):
		return KeywordBan + " " + strings.TrimSpace(trimmed[len("/ban "):])
	default:
		return nick + ChatSeparator + line
	}
}
