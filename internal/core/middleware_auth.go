package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ammrshmbng/pro-learn/internal/types"
)

// Authenticator resolves a bearer session token to the authenticated user.
// Implemented by the auth service; defined here so core does not import it.
type Authenticator interface {
	ResolveSession(ctx context.Context, sessionID string) (*types.User, error)
}

// AuthMiddleware guards the authenticated API surface.
//
//  1. Extracts the Bearer token from the Authorization header.
//  2. Resolves it to a user via the Authenticator.
//  3. Injects the user into the request context via types.WithUser.
//
// Failures return 401 with distinct codes: auth_token_missing when no
// credential was presented, auth_token_invalid for unknown tokens, and
// auth_session_expired for lapsed sessions. A nil Authenticator passes
// through, which lets chassis tests run without auth wiring.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "bearer token is required", nil))
			return
		}

		user, err := s.Authenticator.ResolveSession(r.Context(), token)
		if err != nil {
			var appErr *types.AppError
			if errors.As(err, &appErr) && strings.HasPrefix(string(appErr.Code), "auth_") {
				Error(w, r, err)
				return
			}
			s.Logger.ErrorContext(r.Context(), "session resolution failed", "error", err)
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid authentication token", nil))
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithUser(r.Context(), user)))
	})
}

// extractBearerToken parses an Authorization header value in the form
// "Bearer <token>" (scheme is case-insensitive per RFC 7235). Returns an
// empty string when the format does not match.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}
