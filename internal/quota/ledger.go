package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/quotaguard/internal/metrics"
	"github.com/aiox-platform/quotaguard/internal/storage"
)

// Ledger is the durable per-user, per-day consumption counter.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Usage returns the consumed count for the user and day. It never creates a
// row.
func (l *Ledger) Usage(ctx context.Context, userID uuid.UUID, day Day) (int, error) {
	count, err := l.store.Usage(ctx, userID, day)
	if err != nil {
		return 0, fmt.Errorf("reading usage: %w", err)
	}
	return count, nil
}

// GlobalUsage returns the consumed total across all users for day.
func (l *Ledger) GlobalUsage(ctx context.Context, day Day) (int, error) {
	total, err := l.store.GlobalUsage(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("reading global usage: %w", err)
	}
	return total, nil
}

// Ensure makes sure exactly one ledger row exists for the user and day and
// returns it locked for the rest of tx.
func (l *Ledger) Ensure(ctx context.Context, tx Tx, userID uuid.UUID, day Day, now time.Time) (*Usage, error) {
	if l.store.Capabilities().Upsert {
		var outcome storage.Outcome
		err := tx.Nested(ctx, func(sp Tx) error {
			var err error
			outcome, err = sp.InsertUsageIfAbsent(ctx, userID, day, now)
			return err
		})
		if err != nil && outcome != storage.Conflict {
			return nil, fmt.Errorf("upserting usage row: %w", err)
		}
	}

	usage, err := tx.LockUsage(ctx, userID, day)
	if err != nil {
		return nil, fmt.Errorf("locking usage row: %w", err)
	}
	if usage != nil {
		return usage, nil
	}

	var outcome storage.Outcome
	err = tx.Nested(ctx, func(sp Tx) error {
		var err error
		outcome, err = sp.InsertUsage(ctx, userID, day, now)
		return err
	})

	switch outcome {
	case storage.OK:
		if err != nil {
			return nil, fmt.Errorf("inserting usage row: %w", err)
		}
		return tx.LockUsage(ctx, userID, day)
	case storage.Conflict:
		metrics.StorageConflictsTotal.WithLabelValues("ledger_insert").Inc()
		usage, err := tx.LockUsage(ctx, userID, day)
		if err != nil {
			return nil, fmt.Errorf("re-reading usage row after conflict: %w", err)
		}
		if usage == nil {
			return nil, fmt.Errorf("usage row for %s on %s missing after conflict", userID, day)
		}
		return usage, nil
	default:
		return nil, fmt.Errorf("inserting usage row: %w", err)
	}
}
