package services

import (
	"errors"

	"github.com/samber/oops"

	"github.com/keyward/apiserver/internal/auth"
)

// ValidationError reports malformed input for one field.
type ValidationError = auth.ValidationError

var (
	// ErrAlreadyRegistered hides which unique field collided.
	ErrAlreadyRegistered = errors.New("an account with these details is already registered")
	// ErrInvalidCredentials is returned for an unknown username and for a
	// wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized is returned for reset tokens that are invalid,
	// expired, of the wrong purpose or already used.
	ErrUnauthorized = errors.New("invalid or expired token")
	// ErrAccountNotFound is returned when a valid reset token names an
	// account that no longer exists.
	ErrAccountNotFound = errors.New("account not found")
)

func validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// internal tags an unexpected failure. Callers map anything that is not one
// of the sentinels above or a ValidationError to a generic server error.
func internal(operation string, err error) error {
	return oops.Code("AUTH_INTERNAL").With("operation", operation).Wrap(err)
}
