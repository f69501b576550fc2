// Package transaction runs units of work on a single connection with
// isolation selection, soft timeouts and deadlock retry.
package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrDeadlock is returned when retries are exhausted on deadlock or serialization failures
	ErrDeadlock = errors.New("deadlock detected")
	// ErrTransactionTimeout is returned when a transaction outlives its soft deadline.
	// The underlying work may still commit or roll back afterwards.
	ErrTransactionTimeout = errors.New("transaction timeout")
)

// IsolationLevel represents the transaction isolation level
type IsolationLevel int

const (
	// LevelDefault leaves the isolation level to the server
	LevelDefault IsolationLevel = iota
	// ReadUncommitted allows dirty reads
	ReadUncommitted
	// ReadCommitted prevents dirty reads (PostgreSQL default)
	ReadCommitted
	// RepeatableRead prevents non-repeatable reads
	RepeatableRead
	// Serializable provides full isolation
	Serializable
)

// String returns the SQL name of the isolation level
func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ UNCOMMITTED"
	case ReadCommitted:
		return "READ COMMITTED"
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "DEFAULT"
	}
}

// ParseIsolationLevel converts a configuration value ("read_committed", "SERIALIZABLE", ...) to a level
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	switch s {
	case "", "default", "DEFAULT":
		return LevelDefault, nil
	case "read_uncommitted", "READ UNCOMMITTED":
		return ReadUncommitted, nil
	case "read_committed", "READ COMMITTED":
		return ReadCommitted, nil
	case "repeatable_read", "REPEATABLE READ":
		return RepeatableRead, nil
	case "serializable", "SERIALIZABLE":
		return Serializable, nil
	default:
		return LevelDefault, fmt.Errorf("unknown isolation level: %s", s)
	}
}

// ToSQLOptions converts the level to sql.TxOptions. LevelDefault yields nil.
func (l IsolationLevel) ToSQLOptions() *sql.TxOptions {
	var level sql.IsolationLevel
	switch l {
	case ReadUncommitted:
		level = sql.LevelReadUncommitted
	case ReadCommitted:
		level = sql.LevelReadCommitted
	case RepeatableRead:
		level = sql.LevelRepeatableRead
	case Serializable:
		level = sql.LevelSerializable
	default:
		return nil
	}
	return &sql.TxOptions{Isolation: level}
}

// TxFunc is a unit of work. ctx carries tx (see TxFromContext) so CRUD calls
// made with it join the transaction.
type TxFunc func(ctx context.Context, tx *sql.Tx) error

// Manager manages database transactions
type Manager struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewManager creates a new transaction manager. logger may be nil.
func NewManager(db *sql.DB, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{db: db, logger: logger.Named("transaction")}
}

// DB returns the underlying database handle
func (m *Manager) DB() *sql.DB {
	return m.db
}

// WithTransaction executes fn within a transaction at the server's default isolation level
func (m *Manager) WithTransaction(ctx context.Context, fn TxFunc) error {
	return m.WithTransactionIsolation(ctx, LevelDefault, fn)
}

// WithTransactionIsolation executes fn on one dedicated connection. It commits
// when fn succeeds, rolls back on error or panic and always releases the
// connection. If ctx already carries a transaction, fn joins it and the
// outer owner decides the outcome. AfterCommit callbacks run after a
// successful commit.
func (m *Manager) WithTransactionIsolation(ctx context.Context, level IsolationLevel, fn TxFunc) error {
	if tx, ok := TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, level.ToSQLOptions())
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	txCtx, state := withManagedTx(ctx, tx)
	if err := fn(txCtx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	state.runAfterCommit()
	return nil
}
