package server

import "errors"

// Session error taxonomy. Handshake errors are fatal to the session, steady
// state errors are reported to the issuer and the session continues.
var (
	ErrAuthFailure      = errors.New("server: authentication failed")
	ErrBannedUser       = errors.New("server: nickname is banned")
	ErrPrivilege        = errors.New("server: admin privilege required")
	ErrTargetNotFound   = errors.New("server: target not found in room")
	ErrMalformedMessage = errors.New("server: malformed message")
	ErrMalformedInput   = errors.New("server: malformed handshake input")
	ErrProtectedTarget  = errors.New("server: target cannot be banned")
)
