package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/ammrshmbng/pro-learn/internal/types"
)

// CourseRepository provides data access for the courses table.
type CourseRepository struct {
	db DBTX
}

// NewCourseRepository creates a new CourseRepository backed by the given
// database connection (pool or transaction).
func NewCourseRepository(db DBTX) *CourseRepository {
	return &CourseRepository{db: db}
}

// GetByID retrieves a course by ID. Used by checkout-session creation to
// price the line item and by the webhook handler tests as a fixture source.
func (r *CourseRepository) GetByID(ctx context.Context, id string) (*types.Course, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, title, description, price_cents, created_at
		 FROM courses
		 WHERE id = $1`,
		id,
	)

	var c types.Course
	var description *string
	err := row.Scan(&c.ID, &c.Title, &description, &c.PriceCents, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundCourse, "course not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve course", err)
	}
	if description != nil {
		c.Description = *description
	}
	return &c, nil
}
