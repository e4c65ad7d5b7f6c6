package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NewToken generates a random (v4) UUID session token.
// 122 random bits from crypto/rand.
func NewToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("session: failed to generate token: %w", err)
	}
	return id.String(), nil
}

// ValidToken reports whether s has the canonical shape NewToken produces.
// Anything else cannot name a stored session.
func ValidToken(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// Fingerprint is a short, non-reversible tag for logging a token.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}
