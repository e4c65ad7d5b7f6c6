package credentials

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MinKeyLength is the shortest operator key HashKey accepts.
const MinKeyLength = 16

var ErrInvalidKey = errors.New("invalid operator key")

// HashKey hashes an operator key using bcrypt.
func HashKey(key string) (string, error) {
	if len(key) < MinKeyLength {
		return "", errors.New("operator key too short")
	}

	bytes, err := bcrypt.GenerateFromPassword(
		[]byte(key),
		bcrypt.DefaultCost,
	)
	if err != nil {
		return "", err
	}

	return string(bytes), nil
}

// VerifyKey compares a presented key with the stored hash.
func VerifyKey(hash string, key string) error {
	if hash == "" || key == "" {
		return ErrInvalidKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return ErrInvalidKey
	}
	return nil
}
