package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aiox-platform/quotaguard/internal/quota"
	"github.com/aiox-platform/quotaguard/internal/storage"
)

var _ quota.Store = (*Store)(nil)

func (s *Store) Capabilities() quota.Capabilities {
	return quota.Capabilities{Upsert: true, RowLocks: true}
}

func (s *Store) InTx(ctx context.Context, fn func(quota.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&quotaTx{tx: tx})
	})
}

func (s *Store) Usage(ctx context.Context, userID uuid.UUID, day quota.Day) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count FROM daily_quota_usage WHERE user_id = $1 AND day = $2`,
		userID, day.Time(),
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying usage: %w", err)
	}
	return count, nil
}

func (s *Store) GlobalUsage(ctx context.Context, day quota.Day) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(count), 0)::int FROM daily_quota_usage WHERE day = $1`,
		day.Time(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("querying global usage: %w", err)
	}
	return total, nil
}

type quotaTx struct {
	tx pgx.Tx
}

// Nested runs fn in a pgx savepoint. Beginning a transaction on a pgx.Tx
// issues SAVEPOINT; rollback and commit map to ROLLBACK TO and RELEASE.
func (t *quotaTx) Nested(ctx context.Context, fn func(quota.Tx) error) error {
	return pgx.BeginFunc(ctx, t.tx, func(sp pgx.Tx) error {
		return fn(&quotaTx{tx: sp})
	})
}

func (t *quotaTx) InsertUsageIfAbsent(ctx context.Context, userID uuid.UUID, day quota.Day, now time.Time) (storage.Outcome, error) {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO daily_quota_usage (user_id, day, count, updated_at)
		 VALUES ($1, $2, 0, $3)
		 ON CONFLICT (user_id, day) DO NOTHING`,
		userID, day.Time(), now,
	)
	return classify(err), err
}

func (t *quotaTx) InsertUsage(ctx context.Context, userID uuid.UUID, day quota.Day, now time.Time) (storage.Outcome, error) {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO daily_quota_usage (user_id, day, count, updated_at) VALUES ($1, $2, 0, $3)`,
		userID, day.Time(), now,
	)
	return classify(err), err
}

func (t *quotaTx) LockUsage(ctx context.Context, userID uuid.UUID, day quota.Day) (*quota.Usage, error) {
	u := &quota.Usage{UserID: userID, Day: day}
	err := t.tx.QueryRow(ctx,
		`SELECT count, updated_at FROM daily_quota_usage
		 WHERE user_id = $1 AND day = $2
		 FOR UPDATE`,
		userID, day.Time(),
	).Scan(&u.Count, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("locking usage row: %w", err)
	}
	return u, nil
}

func (t *quotaTx) UpdateUsage(ctx context.Context, userID uuid.UUID, day quota.Day, count int, now time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE daily_quota_usage SET count = $3, updated_at = $4 WHERE user_id = $1 AND day = $2`,
		userID, day.Time(), count, now,
	)
	if err != nil {
		return fmt.Errorf("updating usage row: %w", err)
	}
	return nil
}

func (t *quotaTx) CountReservations(ctx context.Context, userID uuid.UUID, day quota.Day, status quota.Status) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM quota_reservation WHERE user_id = $1 AND day = $2 AND status = $3`,
		userID, day.Time(), string(status),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting reservations: %w", err)
	}
	return n, nil
}

func (t *quotaTx) InsertReservation(ctx context.Context, r *quota.Reservation) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO quota_reservation (id, user_id, day, status, request_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)`,
		r.ID, r.UserID, r.Day.Time(), string(r.Status), r.RequestID, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting reservation: %w", err)
	}
	return nil
}

func (t *quotaTx) LockReservation(ctx context.Context, id, userID uuid.UUID, day quota.Day) (*quota.Reservation, error) {
	r := &quota.Reservation{ID: id, UserID: userID, Day: day}
	var status string
	err := t.tx.QueryRow(ctx,
		`SELECT status, COALESCE(request_id, ''), created_at, updated_at
		 FROM quota_reservation
		 WHERE id = $1 AND user_id = $2 AND day = $3
		 FOR UPDATE`,
		id, userID, day.Time(),
	).Scan(&status, &r.RequestID, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("locking reservation: %w", err)
	}
	r.Status = quota.Status(status)
	return r, nil
}

func (t *quotaTx) UpdateReservationStatus(ctx context.Context, id uuid.UUID, status quota.Status, now time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE quota_reservation SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), now,
	)
	if err != nil {
		return fmt.Errorf("updating reservation status: %w", err)
	}
	return nil
}

func (t *quotaTx) DeleteReservationsCreatedBefore(ctx context.Context, userID uuid.UUID, day quota.Day, status quota.Status, before time.Time) (int64, error) {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM quota_reservation
		 WHERE user_id = $1 AND day = $2 AND status = $3 AND created_at < $4`,
		userID, day.Time(), string(status), before,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired reservations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *quotaTx) DeleteReservationsBeforeDay(ctx context.Context, userID uuid.UUID, day quota.Day) (int64, error) {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM quota_reservation WHERE user_id = $1 AND day < $2`,
		userID, day.Time(),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting old reservations: %w", err)
	}
	return tag.RowsAffected(), nil
}
