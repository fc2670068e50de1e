package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"min length", "abc", false},
		{"max length", strings.Repeat("a", 20), false},
		{"too short", "ab", true},
		{"too long", strings.Repeat("a", 21), true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "username", verr.Field)
		})
	}
}

func TestValidateEmail(t *testing.T) {
	valid := []string{"a@x.com", "first.last@example.co.uk"}
	invalid := []string{"", "not-an-email", "a@x", "Alice <a@x.com>", "a@@x.com"}

	for _, email := range valid {
		assert.NoError(t, ValidateEmail(email), email)
	}
	for _, email := range invalid {
		var verr *ValidationError
		require.ErrorAs(t, ValidateEmail(email), &verr, email)
		assert.Equal(t, "email", verr.Field)
	}
}

func TestValidatePhone(t *testing.T) {
	phone := "+1 555 0100"
	empty := ""
	long := strings.Repeat("1", MaxPhoneLength+1)

	assert.NoError(t, ValidatePhone(nil))
	assert.NoError(t, ValidatePhone(&phone))
	assert.Error(t, ValidatePhone(&empty))
	assert.Error(t, ValidatePhone(&long))
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     string
	}{
		{"strong", "Secret1!", ""},
		{"every symbol accepted", "Abcdef1@$!%*?&", ""},
		{"too short", "Se1!", "at least 8"},
		{"no lowercase", "SECRET1!", "lowercase"},
		{"no uppercase", "secret1!", "uppercase"},
		{"no digit", "Secret!!", "digit"},
		{"no symbol", "Secret11", "one of"},
		{"symbol outside set", "Secret1#", "one of"},
		{"over bcrypt limit", "Aa1!" + strings.Repeat("x", MaxPasswordBytes), "72 bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword("password", tt.password)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "password", verr.Field)
			assert.Contains(t, verr.Message, tt.want)
		})
	}
}
