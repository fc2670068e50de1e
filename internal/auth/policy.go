package auth

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

// Username, password and phone constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 20
	MinPasswordLength = 8
	// MaxPasswordBytes is bcrypt's input limit.
	MaxPasswordBytes = 72
	MaxPhoneLength   = 32

	passwordSymbols = "@$!%*?&"
)

// ValidationError reports malformed input for a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ValidateUsername checks the username length in characters.
func ValidateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return invalid("username", "username must be between 3 and 20 characters")
	}
	return nil
}

// ValidateEmail checks that email is a bare address such as a@x.com.
func ValidateEmail(email string) error {
	if email == "" {
		return invalid("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(addr.Address[strings.LastIndexByte(addr.Address, '@')+1:], ".") {
		return invalid("email", "email is not a valid address")
	}
	return nil
}

// ValidatePhone checks an optional phone number. nil is always accepted.
func ValidatePhone(phone *string) error {
	if phone == nil {
		return nil
	}
	if *phone == "" || len(*phone) > MaxPhoneLength {
		return invalid("phone", "phone must be between 1 and 32 characters")
	}
	return nil
}

// ValidatePassword enforces the strength policy: at least 8 characters with
// a lowercase letter, an uppercase letter, a digit and one of @$!%*?&.
func ValidatePassword(field, password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return invalid(field, "password must be at least 8 characters long")
	}
	if len(password) > MaxPasswordBytes {
		return invalid(field, "password must be at most 72 bytes long")
	}

	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}

	switch {
	case !lower:
		return invalid(field, "password must contain a lowercase letter")
	case !upper:
		return invalid(field, "password must contain an uppercase letter")
	case !digit:
		return invalid(field, "password must contain a digit")
	case !symbol:
		return invalid(field, "password must contain one of "+passwordSymbols)
	}
	return nil
}
