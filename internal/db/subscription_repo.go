package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/ammrshmbng/pro-learn/internal/types"
)

// SubscriptionRepository provides data access for the subscriptions table.
//
// Key invariants:
//   - At most one row per user, enforced by a UNIQUE constraint on user_id.
//   - Upsert fully replaces every mutable column; no partial-field updates
//     exist, so no stale field can leak from a prior snapshot.
//   - Writes are last-processing-order-wins. The provider may deliver events
//     out of order; this repository does not reorder them. last_event_at is
//     stored so operators can spot regressions but it does not gate writes.
type SubscriptionRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepository creates a new SubscriptionRepository backed by
// the given database connection (pool or transaction).
func NewSubscriptionRepository(db DBTX, logger *slog.Logger) *SubscriptionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepository{db: db, logger: logger}
}

// Upsert creates or fully replaces the user's subscription snapshot in a
// single atomic statement.
func (r *SubscriptionRepository) Upsert(ctx context.Context, s *types.Subscription) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions
		   (id, user_id, stripe_subscription_id, status, plan_interval,
		    current_period_start, current_period_end, cancel_at_period_end,
		    last_event_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
		   stripe_subscription_id = EXCLUDED.stripe_subscription_id,
		   status = EXCLUDED.status,
		   plan_interval = EXCLUDED.plan_interval,
		   current_period_start = EXCLUDED.current_period_start,
		   current_period_end = EXCLUDED.current_period_end,
		   cancel_at_period_end = EXCLUDED.cancel_at_period_end,
		   last_event_at = EXCLUDED.last_event_at,
		   updated_at = NOW()`,
		s.ID,
		s.UserID,
		s.StripeSubscriptionID,
		s.Status,
		s.PlanInterval,
		s.CurrentPeriodStart,
		s.CurrentPeriodEnd,
		s.CancelAtPeriodEnd,
		s.LastEventAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert subscription", err)
	}

	r.logger.InfoContext(ctx, "subscription snapshot replaced",
		"user_id", s.UserID,
		"stripe_subscription_id", s.StripeSubscriptionID,
		"status", string(s.Status),
	)
	return nil
}

// GetByUserID retrieves the user's current subscription snapshot.
func (r *SubscriptionRepository) GetByUserID(ctx context.Context, userID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, user_id, stripe_subscription_id, status, plan_interval,
		        current_period_start, current_period_end, cancel_at_period_end,
		        last_event_at, created_at, updated_at
		 FROM subscriptions
		 WHERE user_id = $1`,
		userID,
	)

	var s types.Subscription
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.StripeSubscriptionID,
		&s.Status,
		&s.PlanInterval,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.CancelAtPeriodEnd,
		&s.LastEventAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve subscription", err)
	}
	return &s, nil
}
