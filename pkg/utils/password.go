package utils

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 6
	// bcrypt ignores everything past 72 bytes.
	MaxPasswordLength = 72
	passwordCost      = 10
)

// HashPassword hashes a password with bcrypt.
func HashPassword(password string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the stored hash.
// A mismatch is (false, nil); a malformed hash is an error.
func VerifyPassword(password, hashedPassword string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

// ValidatePassword checks the password length bounds.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return &ValidationError{Field: "password", Message: "Password must be at least 6 characters"}
	}
	if len(password) > MaxPasswordLength {
		return &ValidationError{Field: "password", Message: "Password must be at most 72 bytes"}
	}
	return nil
}
