package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/ammrshmbng/pro-learn/internal/types"
)

// SessionRepository provides data access for the sessions table.
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a new SessionRepository backed by the given
// database connection (pool or transaction).
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, s *types.Session) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sessions (id, user_id, ip_address, user_agent, expires_at, last_activity_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID,
		s.UserID,
		s.IPAddress,
		s.UserAgent,
		s.ExpiresAt,
		s.LastActivityAt,
		s.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create session", err)
	}
	return nil
}

// GetByID retrieves a session by its identifier (the bearer credential).
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*types.Session, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, user_id, ip_address, user_agent, expires_at, last_activity_at, created_at
		 FROM sessions
		 WHERE id = $1`,
		id,
	)

	var s types.Session
	err := row.Scan(&s.ID, &s.UserID, &s.IPAddress, &s.UserAgent, &s.ExpiresAt, &s.LastActivityAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "session not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve session", err)
	}
	return &s, nil
}

// DeleteByID removes a session (logout).
func (r *SessionRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete session", err)
	}
	return nil
}
