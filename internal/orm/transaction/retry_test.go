package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"pg deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"pg serialization", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40001"}), true},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"message", errors.New("ERROR: deadlock detected"), true},
		{"other", errors.New("syntax error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

func TestManager_WithRetryConfigRetriesDeadlocks(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db, nil)

	attempts := 0
	err := mgr.WithRetryConfig(context.Background(), &RetryConfig{MaxRetries: 3, BaseBackoff: time.Millisecond},
		func(ctx context.Context, tx *sql.Tx) error {
			attempts++
			if attempts < 3 {
				return &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
			}
			_, err := tx.ExecContext(ctx, "INSERT INTO test_records (name) VALUES (?)", "retried")
			return err
		})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, countRecords(t, db))
}

func TestManager_WithRetryConfigGivesUp(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db, nil)

	attempts := 0
	err := mgr.WithRetryConfig(context.Background(), &RetryConfig{MaxRetries: 2, BaseBackoff: time.Millisecond},
		func(context.Context, *sql.Tx) error {
			attempts++
			return &pgconn.PgError{Code: "40001"}
		})
	assert.ErrorIs(t, err, ErrDeadlock)
	assert.Equal(t, 2, attempts)
}

func TestManager_WithRetryStopsOnOtherErrors(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db, nil)
	boom := errors.New("constraint")

	attempts := 0
	err := mgr.WithRetry(context.Background(), func(context.Context, *sql.Tx) error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}
