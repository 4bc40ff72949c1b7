package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/ammrshmbng/pro-learn/internal/types"
)

// PurchaseRepository provides data access for the purchases table.
//
// Key invariant: stripe_payment_id carries a UNIQUE constraint, so purchase
// recording is safe under arbitrary webhook delivery concurrency without
// application-level locking. Replayed checkout-completion events collapse
// into a single row.
type PurchaseRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewPurchaseRepository creates a new PurchaseRepository backed by the given
// database connection (pool or transaction).
func NewPurchaseRepository(db DBTX, logger *slog.Logger) *PurchaseRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PurchaseRepository{db: db, logger: logger}
}

// Record inserts a purchase keyed by its external payment ID. If a purchase
// with that stripe_payment_id already exists the insert is an idempotent
// no-op: no second record is created and no error is returned. This is the
// mechanism that makes the provider's at-least-once delivery safe.
//
// Returns created=false when the event was a replay.
func (r *PurchaseRepository) Record(ctx context.Context, p *types.Purchase) (created bool, err error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO purchases (id, user_id, course_id, amount_cents, stripe_payment_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (stripe_payment_id) DO NOTHING`,
		p.ID,
		p.UserID,
		p.CourseID,
		p.AmountCents,
		p.StripePaymentID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record purchase", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.InfoContext(ctx, "duplicate purchase event ignored",
			"stripe_payment_id", p.StripePaymentID,
			"user_id", p.UserID,
		)
		return false, nil
	}

	return true, nil
}

// GetByStripePaymentID retrieves a purchase by its external payment ID.
func (r *PurchaseRepository) GetByStripePaymentID(ctx context.Context, paymentID string) (*types.Purchase, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, user_id, course_id, amount_cents, stripe_payment_id, created_at
		 FROM purchases
		 WHERE stripe_payment_id = $1`,
		paymentID,
	)

	var p types.Purchase
	err := row.Scan(&p.ID, &p.UserID, &p.CourseID, &p.AmountCents, &p.StripePaymentID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundCourse, "purchase not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve purchase", err)
	}
	return &p, nil
}

// HasAccess reports whether the user owns a completed purchase of the course.
func (r *PurchaseRepository) HasAccess(ctx context.Context, userID string, courseID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM purchases WHERE user_id = $1 AND course_id = $2
		 )`,
		userID,
		courseID,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check course access", err)
	}
	return exists, nil
}
