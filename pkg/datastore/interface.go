package datastore

import (
	"context"

	"github.com/NicolasHaas/chatrelay/pkg/model"
)

// DataStore defines the persistence interface for chatrelay: the room message
// log and the banned-nickname list. Implementations are the SQLite Store and
// the in-memory MemoryStore used by tests.
type DataStore interface {
	MessageReadProvider
	MessageWriteProvider

	BanReadProvider
	BanWriteProvider

	Close() error
}

// Compile-time checks.
var (
	_ DataStore = (*Store)(nil)
	_ DataStore = (*MemoryStore)(nil)
)

type MessageReadProvider interface {
	// ListMessages returns matching messages, newest first.
	ListMessages(ctx context.Context, filters model.MessageFilters) ([]model.Message, error)
	// LoadHistory renders the newest limit messages of a room, oldest first.
	LoadHistory(ctx context.Context, roomID string, limit int) (string, error)
}

type MessageWriteProvider interface {
	CreateMessage(ctx context.Context, message *model.Message) error
	// SaveMessage records one chat line.
	SaveMessage(ctx context.Context, roomID, nickname, text string) error
}

type BanReadProvider interface {
	IsBanned(ctx context.Context, nickname string) (bool, error)
	ListBans(ctx context.Context) ([]model.Ban, error)
}

type BanWriteProvider interface {
	// AddBan records a ban. Banning an already banned nickname is a no-op.
	AddBan(ctx context.Context, nickname, reason, bannedBy string) error
}
