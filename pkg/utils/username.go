package utils

import (
	"regexp"
	"strings"
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 20
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_]*$`)

// ValidateUsername checks a display name: 3-20 characters of letters, digits and
// underscores, not starting with an underscore.
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)

	if len(username) < MinUsernameLength {
		return &ValidationError{Field: "username", Message: "Username must be at least 3 characters"}
	}
	if len(username) > MaxUsernameLength {
		return &ValidationError{Field: "username", Message: "Username must be at most 20 characters"}
	}
	if !usernameRegex.MatchString(username) {
		if strings.HasPrefix(username, "_") {
			return &ValidationError{Field: "username", Message: "Username must start with a letter or number"}
		}
		return &ValidationError{Field: "username", Message: "Username can only contain letters, numbers, and underscores"}
	}
	return nil
}

// NormalizeUsername is the case-folded key used for uniqueness checks.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ValidationError is returned for malformed client input. It is always
// reported back to the caller, never logged as a server failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
