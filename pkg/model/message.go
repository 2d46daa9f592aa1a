package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const MessageMaxBodyLength = 1024

const (
	HistoryHeader = "--- ROOM HISTORY START ---"
	HistoryFooter = "--- ROOM HISTORY END ---"
)

var ErrMessageBodyTooLong = fmt.Errorf("message body exceeds %d characters", MessageMaxBodyLength)
var ErrMessageBodyEmpty = errors.New("message body cannot be empty")
var ErrMessageRoomEmpty = errors.New("message room id cannot be empty")

// Message is one persisted chat line.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"room_id"`
	Nickname  string    `json:"nickname"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageFilters narrows ListMessages. Nil fields do not filter.
type MessageFilters struct {
	LimitToRoomID   *string
	LimitToNickname *string
	PageSize        *int64
	Offset          *int64
}

func (m *Message) Validate() error {
	if m.RoomID == "" {
		return ErrMessageRoomEmpty
	}
	if strings.TrimSpace(m.Body) == "" {
		return ErrMessageBodyEmpty
	} else if utf8.RuneCountInString(m.Body) > MessageMaxBodyLength {
		return ErrMessageBodyTooLong
	}

	return nil
}

// FormatHistory renders messages (oldest first) as the text block sent back
// for a history request.
func FormatHistory(roomID string, messages []Message) string {
	var b strings.Builder
	b.WriteString(HistoryHeader)
	b.WriteByte('\n')
	if len(messages) == 0 {
		fmt.Fprintf(&b, "No messages yet in room '%s'.\n", roomID)
	}
	for i, m := range messages {
		fmt.Fprintf(&b, "%d. [%s] %s : %s\n", i+1, m.CreatedAt.UTC().Format("2006-01-02 15:04:05"), m.Nickname, m.Body)
	}
	b.WriteString(HistoryFooter)
	return b.String()
}
