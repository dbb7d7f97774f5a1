package services

import (
	"errors"
	"fmt"
)

var (
	ErrMessageNotFound   = errors.New("message not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrUsernameTaken     = errors.New("username already taken")
	ErrStaleTransition   = errors.New("message status does not advance")
	ErrAlreadyIdentified = errors.New("connection already joined as another user")
	ErrNotIdentified     = errors.New("join before sending messages")
	ErrSessionNotFound   = errors.New("session not found")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

// PersistenceError wraps any failure of the message or account store.
// Callers report it to the originating connection only.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistenceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// ErrInvalidCredentials is returned by Login for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")
