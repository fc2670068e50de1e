package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyward/apiserver/config"
)

// ErrTokenInvalid is returned for any token that must not be trusted: bad
// signature, malformed structure, unexpected algorithm or past expiry.
var ErrTokenInvalid = errors.New("token invalid")

// Purpose tells access tokens and reset tokens apart.
type Purpose string

const (
	PurposeAccess Purpose = "access"
	PurposeReset  Purpose = "reset"
)

// Claims is the decoded payload of a token.
type Claims struct {
	jwt.RegisteredClaims
	Purpose Purpose `json:"purpose,omitempty"`
	// Stamp binds a reset token to the password hash it was issued against.
	Stamp string `json:"stamp,omitempty"`
}

// IssueOption customizes a token at issue time.
type IssueOption func(*Claims)

// WithPurpose sets the purpose claim.
func WithPurpose(p Purpose) IssueOption {
	return func(c *Claims) {
		c.Purpose = p
	}
}

// WithStamp sets the stamp claim.
func WithStamp(stamp string) IssueOption {
	return func(c *Claims) {
		c.Stamp = stamp
	}
}

// TokenService issues and validates HMAC-signed JWTs.
type TokenService struct {
	secret []byte
	method jwt.SigningMethod
	parser *jwt.Parser
	now    func() time.Time
}

// NewTokenService builds a TokenService from the auth configuration. It
// fails when the secret or algorithm is missing or the algorithm is not a
// symmetric HMAC method.
func NewTokenService(cfg config.AuthConfig) (*TokenService, error) {
	return newTokenService(cfg, time.Now)
}

// NewTokenServiceWithClock is NewTokenService with a custom clock.
func NewTokenServiceWithClock(cfg config.AuthConfig, now func() time.Time) (*TokenService, error) {
	return newTokenService(cfg, now)
}

func newTokenService(cfg config.AuthConfig, now func() time.Time) (*TokenService, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("SECRET_KEY is required")
	}
	alg := strings.TrimSpace(cfg.Algorithm)
	if alg == "" {
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("ALGORITHM is required")
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, oops.Code("AUTH_CONFIG_INVALID").
			With("algorithm", alg).
			Errorf("unsupported signing algorithm %q", alg)
	}
	if now == nil {
		now = time.Now
	}

	return &TokenService{
		secret: []byte(cfg.SecretKey),
		method: method,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{method.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(now),
		),
		now: now,
	}, nil
}

// Issue signs a token for subject that expires ttl from now.
func (s *TokenService) Issue(subject string, ttl time.Duration, opts ...IssueOption) (string, error) {
	token, _, err := s.IssueWithExpiry(subject, ttl, opts...)
	return token, err
}

// IssueWithExpiry is Issue that also returns the expiry written into the
// token's exp claim.
func (s *TokenService) IssueWithExpiry(subject string, ttl time.Duration, opts ...IssueOption) (string, time.Time, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	for _, opt := range opts {
		opt(&claims)
	}

	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, oops.Code("AUTH_TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Validate verifies the signature and expiry of tokenString and returns its
// claims. Every failure is reported as ErrTokenInvalid.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := s.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, oops.Code("AUTH_TOKEN_INVALID").With("reason", err.Error()).Wrap(ErrTokenInvalid)
	}
	if !token.Valid {
		return nil, oops.Code("AUTH_TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, oops.Code("AUTH_TOKEN_INVALID").With("reason", "missing subject").Wrap(ErrTokenInvalid)
	}
	return claims, nil
}

// HashStamp derives the stamp claim from a stored password hash. It changes
// whenever the password does.
func HashStamp(passwordHash string) string {
	sum := sha256.Sum256([]byte(passwordHash))
	return hex.EncodeToString(sum[:8])
}
