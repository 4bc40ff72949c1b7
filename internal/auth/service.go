// Package auth implements first-party credential verification and session
// management for the dashboard API. Sessions are opaque random tokens stored
// server-side; the token itself is the bearer credential.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ammrshmbng/pro-learn/internal/types"
)

// bcryptCost is the bcrypt cost factor used for password hashing.
const bcryptCost = 12

// sessionIDPrefix is prepended to generated session identifiers so they are
// recognizable in logs and storage.
const sessionIDPrefix = "sess_"

// UserStore is the subset of user data access the auth service needs.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
	GetByEmail(ctx context.Context, email string) (*types.User, error)
}

// SessionStore is the subset of session data access the auth service needs.
type SessionStore interface {
	Create(ctx context.Context, session *types.Session) error
	GetByID(ctx context.Context, sessionID string) (*types.Session, error)
	DeleteByID(ctx context.Context, sessionID string) error
}

// PasswordHasher abstracts bcrypt operations for testability.
type PasswordHasher interface {
	CompareHashAndPassword(hashedPassword, password string) error
	GenerateFromPassword(password string) (string, error)
}

type bcryptHasher struct{}

func (bcryptHasher) CompareHashAndPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func (bcryptHasher) GenerateFromPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// TokenGenerator abstracts the entropy source for session IDs.
type TokenGenerator interface {
	GenerateSessionID() (string, error)
}

// CryptoTokenGenerator is the production TokenGenerator using crypto/rand.
type CryptoTokenGenerator struct{}

// GenerateSessionID returns "sess_" followed by 32 random hex-encoded bytes.
func (CryptoTokenGenerator) GenerateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session ID: %w", err)
	}
	return sessionIDPrefix + hex.EncodeToString(b), nil
}

// ServiceConfig holds the dependencies for creating a Service. Hasher,
// TokenGen, Clock, and Logger fall back to production defaults when nil.
type ServiceConfig struct {
	Users           UserStore
	Sessions        SessionStore
	SessionDuration time.Duration
	Hasher          PasswordHasher
	TokenGen        TokenGenerator
	Clock           types.Clock
	Logger          *slog.Logger
}

// Service verifies credentials and manages dashboard sessions.
type Service struct {
	users           UserStore
	sessions        SessionStore
	sessionDuration time.Duration
	hasher          PasswordHasher
	tokenGen        TokenGenerator
	clock           types.Clock
	logger          *slog.Logger
}

// NewService creates an auth Service from the given configuration.
func NewService(cfg ServiceConfig) *Service {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = bcryptHasher{}
	}
	tokenGen := cfg.TokenGen
	if tokenGen == nil {
		tokenGen = CryptoTokenGenerator{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	duration := cfg.SessionDuration
	if duration <= 0 {
		duration = 7 * 24 * time.Hour
	}
	return &Service{
		users:           cfg.Users,
		sessions:        cfg.Sessions,
		sessionDuration: duration,
		hasher:          hasher,
		tokenGen:        tokenGen,
		clock:           clock,
		logger:          logger,
	}
}

// Login verifies the email/password pair and creates a session.
//
// User-not-found and wrong-password both return auth_invalid_creds with an
// identical message, so callers cannot probe which emails exist.
func (s *Service) Login(ctx context.Context, email, password, ip, userAgent string) (*types.User, *types.Session, error) {
	user, err := s.users.GetByEmail(ctx, CanonicalizeEmail(email))
	if err != nil {
		if appErr, ok := err.(*types.AppError); ok && appErr.Code == types.ErrCodeNotFoundUser {
			return nil, nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
		}
		return nil, nil, err
	}

	if err := s.hasher.CompareHashAndPassword(user.PasswordHash, password); err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
	}

	sessionID, err := s.tokenGen.GenerateSessionID()
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate session ID", err)
	}

	now := s.clock.Now()
	session := &types.Session{
		ID:             sessionID,
		UserID:         user.ID,
		IPAddress:      ip,
		UserAgent:      userAgent,
		ExpiresAt:      now.Add(s.sessionDuration),
		LastActivityAt: now,
		CreatedAt:      now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, nil, err
	}

	s.logger.Info("user logged in",
		"user_id", user.ID,
		"session_id", sessionID,
	)

	return user, session, nil
}

// Logout deletes the session so the token is immediately unusable.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info("session invalidated", "session_id", sessionID)
	return nil
}

// ResolveSession validates a bearer session token and returns its user.
// Expired sessions yield auth_session_expired; unknown tokens yield
// auth_token_invalid.
func (s *Service) ResolveSession(ctx context.Context, sessionID string) (*types.User, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if s.clock.Now().After(session.ExpiresAt) {
		return nil, types.NewAppError(types.ErrCodeAuthSessionExpired, "session has expired", nil)
	}

	return s.users.GetByID(ctx, session.UserID)
}

// CanonicalizeEmail normalizes email addresses for consistent lookups.
func CanonicalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
