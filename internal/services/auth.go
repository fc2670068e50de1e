package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/keyward/apiserver/config"
	"github.com/keyward/apiserver/internal/auth"
	"github.com/keyward/apiserver/internal/logging"
	"github.com/keyward/apiserver/internal/metrics"
	"github.com/keyward/apiserver/internal/store"
	"github.com/keyward/apiserver/types"
)

// Response messages shared with the HTTP layer.
const (
	ResetRequestedMessage = "If the account exists, password reset instructions have been sent."
	PasswordResetMessage  = "Password has been reset."
	TokenTypeBearer       = "bearer"
)

// fallbackDummyHash is a well-formed cost 10 bcrypt hash. It is only used
// when the configured hasher cannot produce a dummy hash of its own.
const fallbackDummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z7LQ4Krv8lsZBHV5b6O6wEwe"

// AccountRepository defines persistence operations for accounts.
type AccountRepository interface {
	GetByID(ctx context.Context, id int64) (types.Account, error)
	GetByUsername(ctx context.Context, username string) (types.Account, error)
	Create(ctx context.Context, account types.Account) (types.Account, error)
	// UpdatePasswordHash swaps oldHash for newHash, failing with
	// store.ErrConflict when the stored hash is no longer oldHash.
	UpdatePasswordHash(ctx context.Context, id int64, oldHash, newHash string) error
}

// ResetNotice is everything a notifier needs to deliver reset instructions.
type ResetNotice struct {
	AccountID int64     `json:"account_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ResetURL  string    `json:"reset_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ResetNotifier delivers password reset instructions.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, notice ResetNotice) error
}

// NotifierFunc adapts a function to ResetNotifier.
type NotifierFunc func(ctx context.Context, notice ResetNotice) error

func (f NotifierFunc) NotifyPasswordReset(ctx context.Context, notice ResetNotice) error {
	return f(ctx, notice)
}

// RegisterInput carries the registration fields.
type RegisterInput struct {
	Username string
	Password string
	Email    string
	Phone    *string
}

// LoginResult is returned on successful login.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// AuthService implements registration, login and password reset.
type AuthService struct {
	repo          AccountRepository
	hasher        auth.PasswordHasher
	tokens        *auth.TokenService
	cfg           config.AuthConfig
	notifier      ResetNotifier
	notifyTimeout time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger
	dummyHash     string

	pending sync.WaitGroup
}

// AuthServiceOption configures an AuthService.
type AuthServiceOption func(*AuthService)

// WithNotifier sets the reset notifier. Without one, reset requests still
// succeed but nothing is delivered.
func WithNotifier(n ResetNotifier) AuthServiceOption {
	return func(s *AuthService) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithNotifyTimeout bounds each notification attempt.
func WithNotifyTimeout(d time.Duration) AuthServiceOption {
	return func(s *AuthService) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) AuthServiceOption {
	return func(s *AuthService) {
		s.metrics = m
	}
}

func WithLogger(l *slog.Logger) AuthServiceOption {
	return func(s *AuthService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewAuthService(
	repo AccountRepository,
	hasher auth.PasswordHasher,
	tokens *auth.TokenService,
	cfg config.AuthConfig,
	opts ...AuthServiceOption,
) *AuthService {
	s := &AuthService{
		repo:          repo,
		hasher:        hasher,
		tokens:        tokens,
		cfg:           cfg,
		notifier:      NotifierFunc(func(context.Context, ResetNotice) error { return nil }),
		notifyTimeout: 30 * time.Second,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.dummyHash = fallbackDummyHash
	if hash, err := hasher.Hash("keyward-dummy-password"); err == nil {
		s.dummyHash = hash
	}
	return s
}

// Register validates the input, hashes the password and stores a new account.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (types.Account, error) {
	account, err := s.register(ctx, in)
	s.observe("register", err)
	return account, err
}

func (s *AuthService) register(ctx context.Context, in RegisterInput) (types.Account, error) {
	if err := auth.ValidateUsername(in.Username); err != nil {
		return types.Account{}, err
	}
	if err := auth.ValidateEmail(in.Email); err != nil {
		return types.Account{}, err
	}
	if err := auth.ValidatePhone(in.Phone); err != nil {
		return types.Account{}, err
	}
	if err := auth.ValidatePassword("password", in.Password); err != nil {
		return types.Account{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return types.Account{}, internal("Hash", err)
	}

	account, err := s.repo.Create(ctx, types.Account{
		Username:     in.Username,
		Email:        in.Email,
		Phone:        in.Phone,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return types.Account{}, oops.Code("AUTH_ALREADY_REGISTERED").Wrap(ErrAlreadyRegistered)
		}
		return types.Account{}, internal("Create", err)
	}
	return account, nil
}

// Login verifies the credentials and issues an access token whose subject
// is the username.
func (s *AuthService) Login(ctx context.Context, username, password string) (LoginResult, error) {
	result, err := s.login(ctx, username, password)
	s.observe("login", err)
	return result, err
}

func (s *AuthService) login(ctx context.Context, username, password string) (LoginResult, error) {
	if username == "" {
		return LoginResult{}, validation("username", "username and password are required")
	}
	if password == "" {
		return LoginResult{}, validation("password", "username and password are required")
	}

	account, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Spend the same verification work as for a real account.
			_, _ = s.hasher.Verify(password, s.dummyHash)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, internal("GetByUsername", err)
	}

	ok, err := s.hasher.Verify(password, account.PasswordHash)
	if err != nil {
		return LoginResult{}, internal("Verify", err)
	}
	if !ok {
		return LoginResult{}, ErrInvalidCredentials
	}

	if s.hasher.NeedsUpgrade(account.PasswordHash) {
		s.upgradeHash(ctx, account, password)
	}

	token, err := s.tokens.Issue(account.Username, s.cfg.AccessTokenTTL, auth.WithPurpose(auth.PurposeAccess))
	if err != nil {
		return LoginResult{}, internal("Issue", err)
	}
	return LoginResult{AccessToken: token, TokenType: TokenTypeBearer}, nil
}

// upgradeHash rehashes with the current cost. Failure leaves the old hash
// in place.
func (s *AuthService) upgradeHash(ctx context.Context, account types.Account, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.repo.UpdatePasswordHash(ctx, account.ID, account.PasswordHash, hash)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "password hash upgrade failed", "account_id", account.ID, "error", err)
	}
}

// RequestPasswordReset issues a reset token for username and hands it to the
// notifier in the background. The returned message is the same whether or
// not the account exists, and notifier failures never reach the caller.
func (s *AuthService) RequestPasswordReset(ctx context.Context, username string) (string, error) {
	msg, err := s.requestPasswordReset(ctx, username)
	s.observe("password_reset_request", err)
	return msg, err
}

func (s *AuthService) requestPasswordReset(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", validation("username", "username is required")
	}

	account, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ResetRequestedMessage, nil
		}
		return "", internal("GetByUsername", err)
	}

	token, expiresAt, err := s.tokens.IssueWithExpiry(
		strconv.FormatInt(account.ID, 10),
		s.cfg.ResetTokenTTL,
		auth.WithPurpose(auth.PurposeReset),
		auth.WithStamp(auth.HashStamp(account.PasswordHash)),
	)
	if err != nil {
		return "", internal("Issue", err)
	}

	s.dispatch(ctx, ResetNotice{
		AccountID: account.ID,
		Username:  account.Username,
		Email:     account.Email,
		Token:     token,
		ResetURL:  s.cfg.ResetURL,
		ExpiresAt: expiresAt,
	})
	return ResetRequestedMessage, nil
}

func (s *AuthService) dispatch(ctx context.Context, notice ResetNotice) {
	s.pending.Add(1)
	s.metrics.NotifyStarted()
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
		defer cancel()

		err := s.notifier.NotifyPasswordReset(ctx, notice)
		s.metrics.NotifyFinished(err)
		if err != nil {
			logging.Error(ctx, s.logger, "password reset notification failed",
				oops.Code("NOTIFY_FAILED").With("account_id", notice.AccountID).Wrap(err))
		}
	}()
}

// Wait blocks until every notification dispatched so far has finished.
func (s *AuthService) Wait() {
	s.pending.Wait()
}

// ResetPassword sets a new password for the account named by a reset token.
// A token authorizes exactly one change: once the password hash moves on,
// the token's stamp no longer matches and the conditional update fails.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) (string, error) {
	msg, err := s.resetPassword(ctx, token, newPassword)
	s.observe("password_reset", err)
	return msg, err
}

func (s *AuthService) resetPassword(ctx context.Context, token, newPassword string) (string, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return "", oops.Code("AUTH_UNAUTHORIZED").With("reason", err.Error()).Wrap(ErrUnauthorized)
	}
	if claims.Purpose != auth.PurposeReset {
		return "", oops.Code("AUTH_UNAUTHORIZED").With("reason", "wrong purpose").Wrap(ErrUnauthorized)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return "", oops.Code("AUTH_UNAUTHORIZED").With("reason", "non-numeric subject").Wrap(ErrUnauthorized)
	}

	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrAccountNotFound
		}
		return "", internal("GetByID", err)
	}
	if claims.Stamp != auth.HashStamp(account.PasswordHash) {
		return "", oops.Code("AUTH_UNAUTHORIZED").With("reason", "stale stamp").Wrap(ErrUnauthorized)
	}

	if err := auth.ValidatePassword("new_password", newPassword); err != nil {
		return "", err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return "", internal("Hash", err)
	}
	if err := s.repo.UpdatePasswordHash(ctx, account.ID, account.PasswordHash, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrAccountNotFound
		}
		if errors.Is(err, store.ErrConflict) {
			return "", oops.Code("AUTH_UNAUTHORIZED").With("reason", "password changed concurrently").Wrap(ErrUnauthorized)
		}
		return "", internal("UpdatePasswordHash", err)
	}
	return PasswordResetMessage, nil
}

// Account returns the account an access token was issued to. A username that
// no longer resolves is treated as an invalid token.
func (s *AuthService) Account(ctx context.Context, username string) (types.Account, error) {
	account, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, ErrUnauthorized
		}
		return types.Account{}, internal("GetByUsername", err)
	}
	return account, nil
}

func (s *AuthService) observe(operation string, err error) {
	var verr *ValidationError
	switch {
	case err == nil:
		s.metrics.ObserveAuth(operation, metrics.OutcomeSuccess)
	case errors.As(err, &verr),
		errors.Is(err, ErrAlreadyRegistered),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrAccountNotFound):
		s.metrics.ObserveAuth(operation, metrics.OutcomeRejected)
	default:
		s.metrics.ObserveAuth(operation, metrics.OutcomeError)
	}
}
