package types

import "time"

// Account represents a registered identity that can log in and reset its
// password.
type Account struct {
	// ID is assigned by the store on insert and never changes.
	ID int64 `json:"id" db:"id"`

	// Username is the unique login name, 3 to 20 characters long.
	Username string `json:"username" db:"username"`

	// Email is the unique address reset instructions are delivered to.
	Email string `json:"email" db:"email"`

	// Phone is optional. When present it is unique across accounts.
	Phone *string `json:"phone" db:"phone"`

	// PasswordHash stores the self-describing hash produced by the hasher.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the account was registered.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent password change.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PhoneValue returns the phone number or an empty string when none is set.
func (a Account) PhoneValue() string {
	if a.Phone == nil {
		return ""
	}
	return *a.Phone
}
