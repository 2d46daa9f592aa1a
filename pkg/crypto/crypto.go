// Package crypto provides credential hashing and comparison.
package crypto

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrEmptyCredential = errors.New("crypto: empty credential")

// HashCredential hashes a credential with bcrypt for storage in the server config.
func HashCredential(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptyCredential
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("crypto: hash credential: %w", err)
	}
	return string(h), nil
}

// IsHashed reports whether a configured credential is a bcrypt hash rather than plaintext.
func IsHashed(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") ||
		strings.HasPrefix(stored, "$2b$") ||
		strings.HasPrefix(stored, "$2y$")
}

// MatchCredential compares a credential presented by a client against the
// configured value. Plaintext values are compared in constant time.
// An empty configured value never matches.
func MatchCredential(stored, given string) bool {
	if stored == "" {
		return false
	}
	if IsHashed(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}
