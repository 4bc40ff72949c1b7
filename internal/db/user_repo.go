package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/ammrshmbng/pro-learn/internal/types"
)

// UserRepository provides data access for the users table.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// userColumns defines the standard set of columns selected for user queries.
// Used consistently across all query methods to avoid column drift.
const userColumns = `u.id, u.email, u.name, u.password_hash, u.stripe_customer_id,
	u.created_at, u.deleted_at`

// scanUser scans a single user row into a types.User struct. The columns
// must match the order defined in userColumns. Nullable columns use pointer
// scan targets.
func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	var (
		name             *string
		passwordHash     *string
		stripeCustomerID *string
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&name,
		&passwordHash,
		&stripeCustomerID,
		&u.CreatedAt,
		&u.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if name != nil {
		u.Name = *name
	}
	if passwordHash != nil {
		u.PasswordHash = *passwordHash
	}
	if stripeCustomerID != nil {
		u.StripeCustomerID = *stripeCustomerID
	}
	return &u, nil
}

// GetByID retrieves a user by their internal ID.
// Returns not_found_user if no active user exists.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+`
		 FROM users u
		 WHERE u.id = $1 AND u.deleted_at IS NULL`,
		id,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user", err)
	}
	return u, nil
}

// GetByEmail retrieves a user by email address for login.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+`
		 FROM users u
		 WHERE u.email = $1 AND u.deleted_at IS NULL`,
		email,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user", err)
	}
	return u, nil
}

// GetByStripeCustomerID resolves the internal user owning an external Stripe
// customer ID. The unique index on stripe_customer_id guarantees zero-or-one
// results. Returns not_found_user when no mapping exists; webhook handlers
// decide whether that is fatal for the event.
func (r *UserRepository) GetByStripeCustomerID(ctx context.Context, customerID string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+`
		 FROM users u
		 WHERE u.stripe_customer_id = $1 AND u.deleted_at IS NULL`,
		customerID,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "no user for stripe customer", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user", err)
	}
	return u, nil
}

// UpdateStripeCustomerID links a provisioned Stripe customer to the user.
// Called after EnsureCustomer creates or finds the provider-side customer.
func (r *UserRepository) UpdateStripeCustomerID(ctx context.Context, userID string, customerID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users
		 SET stripe_customer_id = $1
		 WHERE id = $2 AND deleted_at IS NULL`,
		customerID,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update stripe customer id", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}
