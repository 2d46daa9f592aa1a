package datastore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NicolasHaas/chatrelay/pkg/model"
)

// MemoryStore provides an in-memory DataStore implementation for tests.
// It mirrors SQLite behavior for validation and ordering.
type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	nextMessageID int64
	nextBanID     int64

	messages      []model.Message
	bansByNick    map[string]*model.Ban
	banOrder []string
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:           now,
		nextMessageID: 1,
		nextBanID:     1,
		bansByNick:    make(map[string]*model.Ban),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// CreateMessage validates and stores a message, filling in ID and CreatedAt.
func (s *MemoryStore) CreateMessage(_ context.Context, message *model.Message) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("datastore: message failed validation: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	message.ID = s.nextMessageID
	message.CreatedAt = s.now().UTC().Truncate(time.Second)
	s.nextMessageID++
	s.messages = append(s.messages, *message)
	return nil
}

// SaveMessage records one chat line.
func (s *MemoryStore) SaveMessage(ctx context.Context, roomID, nickname, text string) error {
	return saveMessage(ctx, s, roomID, nickname, text)
}

// ListMessages returns matching messages, newest first.
func (s *MemoryStore) ListMessages(_ context.Context, filters model.MessageFilters) ([]model.Message, error) {
	limit := int64(100)
	if filters.PageSize != nil {
		limit = *filters.PageSize
	}
	var offset int64
	if filters.Offset != nil {
		offset = *filters.Offset
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Message
	var skipped int64
	for i := len(s.messages) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		m := s.messages[i]
		if filters.LimitToRoomID != nil && m.RoomID != *filters.LimitToRoomID {
			continue
		}
		if filters.LimitToNickname != nil && m.Nickname != *filters.LimitToNickname {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// LoadHistory renders the newest limit messages of a room, oldest first.
func (s *MemoryStore) LoadHistory(ctx context.Context, roomID string, limit int) (string, error) {
	return loadHistory(ctx, s, roomID, limit)
}

// AddBan records a ban. Banning an already banned nickname is a no-op.
func (s *MemoryStore) AddBan(_ context.Context, nickname, reason, bannedBy string) error {
	if nickname == "" {
		return fmt.Errorf("datastore: add ban: %w", model.ErrNicknameEmpty)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bansByNick[nickname]; exists {
		return nil
	}
	s.bansByNick[nickname] = &model.Ban{
		ID:        s.nextBanID,
		Nickname:  nickname,
		Reason:    reason,
		BannedBy:  bannedBy,
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}
	s.nextBanID++
	s.banOrder = append(s.banOrder, nickname)
	return nil
}

// IsBanned checks if a nickname is on the ban list.
func (s *MemoryStore) IsBanned(_ context.Context, nickname string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bansByNick[nickname]
	return ok, nil
}

// ListBans returns every ban in insertion order.
func (s *MemoryStore) ListBans(_ context.Context) ([]model.Ban, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bans := make([]model.Ban, 0, len(s.banOrder))
	for _, nick := range s.banOrder {
		bans = append(bans, *s.bansByNick[nick])
	}
	return bans, nil
}
