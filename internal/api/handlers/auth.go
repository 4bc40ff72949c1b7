package handlers

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ammrshmbng/pro-learn/internal/core"
	"github.com/ammrshmbng/pro-learn/internal/types"
)

// AuthService is the credential and session surface the auth handler needs.
type AuthService interface {
	Login(ctx context.Context, email, password, ip, userAgent string) (*types.User, *types.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandler exposes login and logout endpoints.
type AuthHandler struct {
	service AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(service AuthService, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{service: service, logger: logger}
}

// RegisterPublicRoutes mounts the pre-auth endpoints.
func (h *AuthHandler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/auth/login", h.HandleLogin)
}

// RegisterRoutes mounts the authenticated endpoints.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/logout", h.HandleLogout)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expires_at"`
	User      *types.User `json:"user"`
}

// HandleLogin verifies credentials and returns a bearer session token.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Email == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "email is required", nil))
		return
	}
	if req.Password == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "password is required", nil))
		return
	}

	user, session, err := h.service.Login(r.Context(), req.Email, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: loginResponse{
		Token:     session.ID,
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339),
		User:      user,
	}})
}

// HandleLogout invalidates the presented session token.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "bearer token is required", nil))
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		core.Error(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// bearerToken extracts the raw token from the Authorization header.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// clientIP returns the remote address without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
