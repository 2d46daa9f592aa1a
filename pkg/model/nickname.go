package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// AdminNickname is forced on every session that authenticates with the admin credential.
const AdminNickname = "admin"

const MaxNicknameLength = 32

var ErrNicknameEmpty = errors.New("nickname must not be empty")
var ErrNicknameTooLong = fmt.Errorf("nickname must not exceed %d characters", MaxNicknameLength)
var ErrNicknameInvalidChars = errors.New("nickname must not contain whitespace, control characters, ':' or '|'")
var ErrNicknameReserved = fmt.Errorf("nickname %q is reserved", AdminNickname)

// ValidateNickname checks a nickname chosen by a non-admin client.
// Nicknames are matched byte-exact by KICK and BAN, so whitespace is rejected.
func ValidateNickname(nick string) error {
	if nick == "" {
		return ErrNicknameEmpty
	}
	if utf8.RuneCountInString(nick) > MaxNicknameLength {
		return ErrNicknameTooLong
	}
	if strings.ContainsAny(nick, ":|") {
		return ErrNicknameInvalidChars
	}
	for _, r := range nick {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == utf8.RuneError {
			return ErrNicknameInvalidChars
		}
	}
	if strings.EqualFold(nick, AdminNickname) {
		return ErrNicknameReserved
	}
	return nil
}
