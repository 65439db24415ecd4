package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/opencourse/enrollment-api/internal/models"
	appErrors "github.com/opencourse/enrollment-api/pkg/errors"
)

// CapacityLedger is the sole writer of classes.enrolled_count. Both
// operations run inside the caller's transaction and lock the class row, so
// the count can never drift from the number of active enrollments and never
// exceed capacity. No other code path may touch the counter.
type CapacityLedger struct {
	logger *zap.Logger
}

// NewCapacityLedger constructs the ledger.
func NewCapacityLedger(logger *zap.Logger) *CapacityLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapacityLedger{logger: logger}
}

// Lock re-reads the class row under a row-level lock, giving the caller an
// authoritative view for the remainder of the transaction.
func (l *CapacityLedger) Lock(ctx context.Context, tx *sqlx.Tx, classID string) (*models.Class, error) {
	const query = `SELECT id, name, track, capacity, enrolled_count, active, archived, restricted_gender, created_at, updated_at
        FROM classes WHERE id = $1 FOR UPDATE`
	var class models.Class
	if err := tx.GetContext(ctx, &class, query, classID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrClassNotFound
		}
		return nil, fmt.Errorf("lock class %s: %w", classID, err)
	}
	return &class, nil
}

// Reserve takes one seat in the class. It re-checks capacity and class state
// under the lock; the eligibility pre-check is advisory, this is the gate.
func (l *CapacityLedger) Reserve(ctx context.Context, tx *sqlx.Tx, classID string) error {
	class, err := l.Lock(ctx, tx, classID)
	if err != nil {
		return err
	}
	if !class.AcceptsEnrollments() {
		return appErrors.ErrClassInactive
	}
	if class.EnrolledCount >= class.Capacity {
		return appErrors.ErrClassFull
	}
	return l.adjust(ctx, tx, classID, +1)
}

// Release frees one seat in the class. A count already at zero means the
// counter and the enrollment rows disagree; that is a programming error, so
// it is logged loudly and the transaction aborts instead of clamping.
func (l *CapacityLedger) Release(ctx context.Context, tx *sqlx.Tx, classID string) error {
	class, err := l.Lock(ctx, tx, classID)
	if err != nil {
		return err
	}
	if class.EnrolledCount <= 0 {
		l.logger.Error("enrolled_count underflow attempted",
			zap.String("class_id", classID),
			zap.Int("enrolled_count", class.EnrolledCount),
		)
		return appErrors.Clone(appErrors.ErrInvariant, "enrolled count would drop below zero")
	}
	return l.adjust(ctx, tx, classID, -1)
}

func (l *CapacityLedger) adjust(ctx context.Context, tx *sqlx.Tx, classID string, delta int) error {
	const query = `UPDATE classes SET enrolled_count = enrolled_count + $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, classID, delta, time.Now().UTC()); err != nil {
		return fmt.Errorf("adjust enrolled count for class %s: %w", classID, err)
	}
	return nil
}
