package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ammrshmbng/pro-learn/internal/types"
)

func testPurchase() *types.Purchase {
	return &types.Purchase{
		ID:              "pur_abc123",
		UserID:          "user_1",
		CourseID:        "course_go",
		AmountCents:     4999,
		StripePaymentID: "cs_session_1",
	}
}

func TestPurchaseRepository_Record_Created(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPurchaseRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"),
		[]any{"pur_abc123", "user_1", "course_go", int64(4999), "cs_session_1"}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	created, err := repo.Record(context.Background(), testPurchase())
	require.NoError(t, err)
	assert.True(t, created)
	db.AssertExpectations(t)
}

func TestPurchaseRepository_Record_DuplicateIsNoOp(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPurchaseRepository(db, nil)

	// ON CONFLICT DO NOTHING reports zero rows affected on replay.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	created, err := repo.Record(context.Background(), testPurchase())
	require.NoError(t, err)
	assert.False(t, created)
	db.AssertExpectations(t)
}

func TestPurchaseRepository_Record_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPurchaseRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := repo.Record(context.Background(), testPurchase())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestPurchaseRepository_GetByStripePaymentID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPurchaseRepository(db, nil)

	now := time.Now().UTC()
	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "pur_abc123"
			*dest[1].(*string) = "user_1"
			*dest[2].(*string) = "course_go"
			*dest[3].(*int64) = 4999
			*dest[4].(*string) = "cs_session_1"
			*dest[5].(*time.Time) = now
			return nil
		},
	}

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"cs_session_1"}).Return(row)

	p, err := repo.GetByStripePaymentID(context.Background(), "cs_session_1")
	require.NoError(t, err)
	assert.Equal(t, "pur_abc123", p.ID)
	assert.Equal(t, int64(4999), p.AmountCents)
	db.AssertExpectations(t)
}

func TestPurchaseRepository_HasAccess(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPurchaseRepository(db, nil)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*bool) = true
			return nil
		},
	}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"user_1", "course_go"}).Return(row)

	ok, err := repo.HasAccess(context.Background(), "user_1", "course_go")
	require.NoError(t, err)
	assert.True(t, ok)
	db.AssertExpectations(t)
}
