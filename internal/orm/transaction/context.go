package transaction

import (
	"context"
	"database/sql"
	"sync"
)

type contextKey string

const contextKeyTransaction contextKey = "querycache:transaction"

// txState is the per-transaction value stored in the context
type txState struct {
	tx      *sql.Tx
	managed bool

	mu          sync.Mutex
	afterCommit []func()
}

// WithTx returns a context carrying tx. CRUD operations run with this
// context execute inside tx. The caller owns commit and rollback, so
// AfterCommit callbacks registered against it run immediately.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, contextKeyTransaction, &txState{tx: tx})
}

func withManagedTx(ctx context.Context, tx *sql.Tx) (context.Context, *txState) {
	state := &txState{tx: tx, managed: true}
	return context.WithValue(ctx, contextKeyTransaction, state), state
}

// TxFromContext retrieves the ambient transaction, if any
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	state, ok := ctx.Value(contextKeyTransaction).(*txState)
	if !ok || state.tx == nil {
		return nil, false
	}
	return state.tx, true
}

// AfterCommit defers fn until the transaction managed by this package that
// ctx belongs to commits; fn is dropped on rollback. It reports false, without
// calling fn, when ctx has no managed transaction.
func AfterCommit(ctx context.Context, fn func()) bool {
	state, ok := ctx.Value(contextKeyTransaction).(*txState)
	if !ok || !state.managed {
		return false
	}
	state.mu.Lock()
	state.afterCommit = append(state.afterCommit, fn)
	state.mu.Unlock()
	return true
}

func (s *txState) runAfterCommit() {
	s.mu.Lock()
	callbacks := s.afterCommit
	s.afterCommit = nil
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}
