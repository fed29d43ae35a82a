package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aiox-platform/quotaguard/internal/ratelimit"
	"github.com/aiox-platform/quotaguard/internal/storage"
)

var _ ratelimit.Store = (*Store)(nil)

var errOverLimit = errors.New("postgres: window over limit")

// IncrementWindow upserts the (ip, window) row and reads the new count in
// the same statement. The row stays locked until the transaction ends, so
// rolling back an over-limit increment restores the previous count exactly.
func (s *Store) IncrementWindow(ctx context.Context, ip string, windowStart, now time.Time, limit int) (ratelimit.Hit, storage.Outcome, error) {
	var hit ratelimit.Hit
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var count int
		err := tx.QueryRow(ctx,
			`INSERT INTO ip_rate_limit (ip, window_start, count, updated_at)
			 VALUES ($1, $2, 1, $3)
			 ON CONFLICT (ip, window_start)
			 DO UPDATE SET count = ip_rate_limit.count + 1, updated_at = EXCLUDED.updated_at
			 RETURNING count`,
			ip, windowStart, now,
		).Scan(&count)
		if err != nil {
			return err
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
	tag, err := s.pool.Exec(ctx, `DELETE FROM ip_rate_limit WHERE window_start < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("pruning rate limit windows: %w", err)
	}
	return tag.RowsAffected(), nil
}
