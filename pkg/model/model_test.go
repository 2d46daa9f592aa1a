package model

import (
	"strings"
	"testing"
	"time"
)

func TestValidateNickname(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid simple", "alice", nil},
		{"valid with numbers", "user123", nil},
		{"valid punctuation", "bob.the-builder_", nil},
		{"valid unicode", "ñoño", nil},
		{"valid max length", strings.Repeat("a", MaxNicknameLength), nil},
		{"empty", "", ErrNicknameEmpty},
		{"too long", strings.Repeat("a", MaxNicknameLength+1), ErrNicknameTooLong},
		{"contains space", "has space", ErrNicknameInvalidChars},
		{"contains colon", "a:b", ErrNicknameInvalidChars},
		{"contains pipe", "a|b", ErrNicknameInvalidChars},
		{"tab character", "user\tname", ErrNicknameInvalidChars},
		{"newline", "user\n", ErrNicknameInvalidChars},
		{"null byte", "us\x00er", ErrNicknameInvalidChars},
		{"reserved", "admin", ErrNicknameReserved},
		{"reserved upper", "ADMIN", ErrNicknameReserved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNickname(tt.input)
			if err != tt.wantErr {
				t.Errorf("ValidateNickname(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeRoomID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"plain", "r1", "r1", nil},
		{"trimmed", "  lounge \n", "lounge", nil},
		{"inner space kept", "game night", "game night", nil},
		{"empty", "", DefaultRoomID, nil},
		{"whitespace only", " \t\r\n", DefaultRoomID, nil},
		{"pipe", "a|b", "", ErrRoomIDInvalidChars},
		{"control", "a\x07b", "", ErrRoomIDInvalidChars},
		{"too long", strings.Repeat("r", MaxRoomIDLength+1), "", ErrRoomIDTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeRoomID(tt.input)
			if err != tt.wantErr {
				t.Fatalf("NormalizeRoomID(%q) err = %v, want %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeRoomID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRoleFor(t *testing.T) {
	if got := RoleFor(true); got != RoleAdmin {
		t.Errorf("RoleFor(true) = %v, want admin", got)
	}
	if got := RoleFor(false); got != RoleUser {
		t.Errorf("RoleFor(false) = %v, want user", got)
	}
}

func TestRoleString(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleUser, "user"},
		{RoleAdmin, "admin"},
		{Role(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.role.String(); got != tt.want {
				t.Errorf("Role(%d).String() = %q, want %q", tt.role, got, tt.want)
			}
			if tt.want != "unknown" && ParseRole(tt.want) != tt.role {
				t.Errorf("ParseRole(%q) did not round-trip", tt.want)
			}
		})
	}
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{"ok", Message{RoomID: "r1", Nickname: "alice", Body: "hello"}, nil},
		{"no room", Message{Nickname: "alice", Body: "hello"}, ErrMessageRoomEmpty},
		{"blank body", Message{RoomID: "r1", Body: "   "}, ErrMessageBodyEmpty},
		{"long body", Message{RoomID: "r1", Body: strings.Repeat("x", MessageMaxBodyLength+1)}, ErrMessageBodyTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.msg.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatHistory(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := FormatHistory("r1", []Message{
		{RoomID: "r1", Nickname: "alice", Body: "hello", CreatedAt: at},
		{RoomID: "r1", Nickname: "bob", Body: "hi", CreatedAt: at},
	})
	want := HistoryHeader + "\n" +
		"1. [2026-01-02 03:04:05] alice : hello\n" +
		"2. [2026-01-02 03:04:05] bob : hi\n" +
		HistoryFooter
	if got != want {
		t.Errorf("FormatHistory mismatch:\n got %q\nwant %q", got, want)
	}

	empty := FormatHistory("quiet", nil)
	if !strings.Contains(empty, "No messages yet in room 'quiet'.") {
		t.Errorf("FormatHistory(empty) = %q", empty)
	}
}
