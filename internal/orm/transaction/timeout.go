package transaction

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Options controls Run
type Options struct {
	// Timeout is the soft deadline; zero disables it
	Timeout time.Duration
	// Isolation selects the transaction isolation level
	Isolation IsolationLevel
	// CancelOnTimeout cancels the work's context when the deadline passes.
	// With the pgx driver this sends a cancel request for the running
	// statement. Without it the work is abandoned, not stopped.
	CancelOnTimeout bool
}

// Run executes fn in a transaction and stops waiting once opts.Timeout
// elapses, returning ErrTransactionTimeout. The late outcome of abandoned
// work is logged when it arrives.
func (m *Manager) Run(ctx context.Context, opts Options, fn TxFunc) error {
	if opts.Timeout <= 0 {
		return m.WithTransactionIsolation(ctx, opts.Isolation, fn)
	}

	workCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	started := time.Now()

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("transaction panicked: %v", p)
			}
		}()
		done <- m.WithTransactionIsolation(workCtx, opts.Isolation, fn)
	}()

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		cancel()
		return err
	case <-timer.C:
		if opts.CancelOnTimeout {
			cancel()
		}
		go m.awaitLateOutcome(done, cancel, started, opts)
		return fmt.Errorf("%w: transaction exceeded %v", ErrTransactionTimeout, opts.Timeout)
	}
}

func (m *Manager) awaitLateOutcome(done <-chan error, cancel context.CancelFunc, started time.Time, opts Options) {
	err := <-done
	cancel()

	outcome := "committed"
	if err != nil {
		outcome = "rolled back"
	}
	m.logger.Warn("transaction finished after timeout",
		zap.String("outcome", outcome),
		zap.Duration("timeout", opts.Timeout),
		zap.Duration("elapsed", time.Since(started)),
		zap.Bool("cancelled", opts.CancelOnTimeout),
		zap.Error(err))
}
