package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const (
	// DefaultMaxRetries is the default number of attempts for deadlocks
	DefaultMaxRetries = 3
	// DefaultBaseBackoff is the default base backoff duration
	DefaultBaseBackoff = 100 * time.Millisecond
)

// RetryConfig configures retry behavior for transactions
type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
	Isolation   IsolationLevel
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:  DefaultMaxRetries,
		BaseBackoff: DefaultBaseBackoff,
	}
}

// WithRetry executes a transaction with automatic retry on deadlock
func (m *Manager) WithRetry(ctx context.Context, fn TxFunc) error {
	return m.WithRetryConfig(ctx, DefaultRetryConfig(), fn)
}

// WithRetryConfig executes a transaction, retrying deadlock and serialization
// failures with exponential backoff
func (m *Manager) WithRetryConfig(ctx context.Context, config *RetryConfig, fn TxFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	var lastErr error

	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("transaction cancelled before retry %d: %w", attempt, ctx.Err())
		}

		err := m.WithTransactionIsolation(ctx, config.Isolation, fn)
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) {
			return err
		}

		lastErr = err
		backoff := config.BaseBackoff * time.Duration(1<<uint(attempt))
		m.logger.Debug("retrying transaction",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction cancelled during retry: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%w: transaction failed after %d retries: %v", ErrDeadlock, config.MaxRetries, lastErr)
}

// IsRetryableError reports deadlock (40P01) and serialization (40001) failures
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40P01" || pgErr.Code == "40001"
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"deadlock detected", "could not serialize access", "40p01", "40001"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
