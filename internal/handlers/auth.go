package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keyward/apiserver/internal/auth"
	"github.com/keyward/apiserver/internal/logging"
	"github.com/keyward/apiserver/internal/services"
)

// AuthHandler exposes the account use-cases over HTTP.
type AuthHandler struct {
	authService *services.AuthService
	tokens      *auth.TokenService
	logger      *slog.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(authService *services.AuthService, tokens *auth.TokenService, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		authService: authService,
		tokens:      tokens,
		logger:      logger,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, authService *services.AuthService, tokens *auth.TokenService, logger *slog.Logger) {
	handler := NewAuthHandler(authService, tokens, logger)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/password-reset-request", handler.RequestPasswordReset)
	r.Post("/reset-password", handler.ResetPassword)
	r.With(handler.RequireAuth).Get("/me", handler.Me)
}

// RequireAuth enforces a valid access token and injects its subject into
// the request context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		claims, err := h.tokens.Validate(tokenString)
		if err != nil || claims.Purpose != auth.PurposeAccess {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), contextSubjectKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Register creates a new account and returns its public view.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.normalize()

	account, err := h.authService.Register(r.Context(), services.RegisterInput{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
		Phone:    req.Phone,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// Login verifies credentials and returns a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	result, err := h.authService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// RequestPasswordReset starts the reset flow. The response does not reveal
// whether the username exists.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	message, err := h.authService.RequestPasswordReset(r.Context(), req.Username)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: message})
}

// ResetPassword sets a new password using a reset token.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	message, err := h.authService.ResetPassword(r.Context(), req.Token, req.NewPassword)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: message})
}

// Me returns the account of the authenticated caller.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	username, err := subjectFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	account, err := h.authService.Account(r.Context(), username)
	if err != nil {
		if errors.Is(err, services.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// writeServiceError maps a use-case failure onto a status code. Unexpected
// errors are logged and never echoed.
func (h *AuthHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		writeFieldError(w, http.StatusBadRequest, verr.Message, verr.Field)
	case errors.Is(err, services.ErrAlreadyRegistered):
		writeError(w, http.StatusBadRequest, services.ErrAlreadyRegistered.Error())
	case errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, services.ErrInvalidCredentials.Error())
	case errors.Is(err, services.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, services.ErrUnauthorized.Error())
	case errors.Is(err, services.ErrAccountNotFound):
		writeError(w, http.StatusBadRequest, services.ErrAccountNotFound.Error())
	default:
		logging.Error(r.Context(), h.logger, "request failed", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

type RegisterRequest struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	Email    string  `json:"email"`
	Phone    *string `json:"phone,omitempty"`
}

func (req *RegisterRequest) normalize() {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Phone != nil {
		phone := strings.TrimSpace(*req.Phone)
		if phone == "" {
			req.Phone = nil
		} else {
			req.Phone = &phone
		}
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type PasswordResetRequest struct {
	Username string `json:"username"`
}

type ResetPasswordRequest struct {
	Token           string `json:"token"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate checks the request shape before the token is looked at: the
// token is present, the new password meets the policy and the confirmation
// matches.
func (req ResetPasswordRequest) Validate() error {
	if strings.TrimSpace(req.Token) == "" {
		return &services.ValidationError{Field: "token", Message: "token is required"}
	}
	if err := auth.ValidatePassword("new_password", req.NewPassword); err != nil {
		return err
	}
	if req.NewPassword != req.ConfirmPassword {
		return &services.ValidationError{Field: "confirm_password", Message: "passwords do not match"}
	}
	return nil
}

type MessageResponse struct {
	Message string `json:"message"`
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
