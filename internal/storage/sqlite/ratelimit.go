package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aiox-platform/quotaguard/internal/ratelimit"
	"github.com/aiox-platform/quotaguard/internal/storage"
)

var _ ratelimit.Store = (*Store)(nil)

var errOverLimit = errors.New("sqlite: window over limit")

// IncrementWindow upserts the (ip, window) row and re-reads the count inside
// the same immediate transaction. An increment that pushes the count past
// limit is rolled back.
func (s *Store) IncrementWindow(ctx context.Context, ip string, windowStart, now time.Time, limit int) (ratelimit.Hit, storage.Outcome, error) {
	var hit ratelimit.Hit
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO ip_rate_limit (ip, window_start, count, updated_at)
			 VALUES (?, ?, 1, ?)
			 ON CONFLICT (ip, window_start)
			 DO UPDATE SET count = ip_rate_limit.count + 1, updated_at = excluded.updated_at`,
			ip, toNanos(windowStart), toNanos(now),
		)
		if err != nil {
			return err
		}

		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT count FROM ip_rate_limit WHERE ip = ? AND window_start = ?`,
			ip, toNanos(windowStart),
		).Scan(&count); err != nil {
			return fmt.Errorf("reading window count: %w", err)
		}

		if count > limit {
			hit = ratelimit.Hit{Count: count - 1}
			return errOverLimit
		}
		hit = ratelimit.Hit{Count: count, Allowed: true}
		return nil
	})

	switch {
	case err == nil, errors.Is(err, errOverLimit):
		return hit, storage.OK, nil
	default:
		return ratelimit.Hit{}, classify(err), err
	}
}

func (s *Store) PruneWindows(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM ip_rate_limit WHERE window_start < ?`, toNanos(before))
	if err != nil {
		return 0, fmt.Errorf("pruning rate limit windows: %w", err)
	}
	return res.RowsAffected()
}
