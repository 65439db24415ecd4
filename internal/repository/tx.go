package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	appErrors "github.com/opencourse/enrollment-api/pkg/errors"
)

// Postgres SQLSTATE codes that mark a transaction as worth retrying.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// TxRunner executes functions inside serializable transactions with a bounded
// retry budget. Every read-then-decide-then-write sequence in the enrollment
// paths must go through it; plain unguarded updates are not allowed to touch
// enrollment or capacity state.
type TxRunner struct {
	db          *sqlx.DB
	maxAttempts int
	retryDelay  time.Duration
	onRetry     func()
	logger      *zap.Logger
}

// TxRunnerConfig tunes retry behaviour. OnRetry, when set, is invoked once
// per retried attempt (metrics hook).
type TxRunnerConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	OnRetry     func()
}

// NewTxRunner constructs a TxRunner bound to the given database handle.
func NewTxRunner(db *sqlx.DB, cfg TxRunnerConfig, logger *zap.Logger) *TxRunner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 25 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TxRunner{db: db, maxAttempts: cfg.MaxAttempts, retryDelay: cfg.RetryDelay, onRetry: cfg.OnRetry, logger: logger}
}

// Serializable runs fn inside a serializable transaction, committing on
// success. Serialization failures and deadlocks are retried up to the
// configured budget; exhaustion surfaces as a retryable BUSY error. Domain
// errors returned by fn roll the transaction back and pass through unchanged.
func (t *TxRunner) Serializable(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		err := t.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryableTxError(err) {
			return err
		}
		lastErr = err
		if t.onRetry != nil {
			t.onRetry()
		}
		t.logger.Warn("serialization conflict, retrying transaction",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < t.maxAttempts {
			timer := time.NewTimer(t.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return appErrors.Wrap(lastErr, appErrors.ErrBusy.Code, appErrors.ErrBusy.Status, appErrors.ErrBusy.Message)
}

func (t *TxRunner) runOnce(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := t.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	return nil
}

func isRetryableTxError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	code := string(pqErr.Code)
	return code == pgSerializationFailure || code == pgDeadlockDetected
}
