package datastore

import (
	"context"
	"fmt"
	"slices"

	"github.com/NicolasHaas/chatrelay/pkg/model"
)

// DefaultHistoryLimit caps a history request when the caller passes 0.
const DefaultHistoryLimit = 50

func loadHistory(ctx context.Context, r MessageReadProvider, roomID string, limit int) (string, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	pageSize := int64(limit)
	msgs, err := r.ListMessages(ctx, model.MessageFilters{
		LimitToRoomID: &roomID,
		PageSize:      &pageSize,
	})
	if err != nil {
		return "", fmt.Errorf("datastore: load history: %w", err)
	}
	slices.Reverse(msgs)
	return model.FormatHistory(roomID, msgs), nil
}

func saveMessage(ctx context.Context, w MessageWriteProvider, roomID, nickname, text string) error {
	return w.CreateMessage(ctx, &model.Message{
		RoomID:   roomID,
		Nickname: nickname,
		Body:     text,
	})
}
