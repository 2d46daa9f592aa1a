package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultRoomID is used when a client answers the room prompt with nothing.
const DefaultRoomID = "general"

const MaxRoomIDLength = 64

var ErrRoomIDTooLong = fmt.Errorf("room id must not exceed %d characters", MaxRoomIDLength)
var ErrRoomIDInvalidChars = errors.New("room id must not contain control characters or '|'")

// NormalizeRoomID trims the client's answer and falls back to DefaultRoomID,
// then validates the result.
func NormalizeRoomID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return DefaultRoomID, nil
	}
	if err := ValidateRoomID(id); err != nil {
		return "", err
	}
	return id, nil
}

// ValidateRoomID checks an already trimmed room identifier.
func ValidateRoomID(id string) error {
	if utf8.RuneCountInString(id) > MaxRoomIDLength {
		return ErrRoomIDTooLong
	}
	if strings.Contains(id, "|") {
		return ErrRoomIDInvalidChars
	}
	for _, r := range id {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return ErrRoomIDInvalidChars
		}
	}
	return nil
}
