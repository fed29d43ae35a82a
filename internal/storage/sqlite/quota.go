package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/quotaguard/internal/quota"
	"github.com/aiox-platform/quotaguard/internal/storage"
)

var _ quota.Store = (*Store)(nil)

func (s *Store) Capabilities() quota.Capabilities {
	return quota.Capabilities{Upsert: true, RowLocks: false}
}

func (s *Store) InTx(ctx context.Context, fn func(quota.Tx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&quotaTx{tx: tx})
	})
}

func (s *Store) Usage(ctx context.Context, userID uuid.UUID, day quota.Day) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM daily_quota_usage WHERE user_id = ? AND day = ?`,
		userID.String(), day.String(),
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying usage: %w", err)
	}
	return count, nil
}

func (s *Store) GlobalUsage(ctx context.Context, day quota.Day) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(count), 0) FROM daily_quota_usage WHERE day = ?`,
		day.String(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("querying global usage: %w", err)
	}
	return total, nil
}

type quotaTx struct {
	tx    *sql.Tx
	depth int
}

func (t *quotaTx) Nested(ctx context.Context, fn func(quota.Tx) error) error {
	name := fmt.Sprintf("sp_%d", t.depth+1)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("creating savepoint: %w", err)
	}

	if err := fn(&quotaTx{tx: t.tx, depth: t.depth + 1}); err != nil {
		// ROLLBACK TO keeps the savepoint on the stack; RELEASE pops it.
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rolling back savepoint: %w", rbErr))
		}
		if _, relErr := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); relErr != nil {
			return errors.Join(err, fmt.Errorf("releasing savepoint: %w", relErr))
		}
		return err
	}

	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("releasing savepoint: %w", err)
	}
	return nil
}

func (t *quotaTx) InsertUsageIfAbsent(ctx context.Context, userID uuid.UUID, day quota.Day, now time.Time) (storage.Outcome, error) {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO daily_quota_usage (user_id, day, count, updated_at)
		 VALUES (?, ?, 0, ?)
		 ON CONFLICT (user_id, day) DO NOTHING`,
		userID.String(), day.String(), toNanos(now),
	)
	return classify(err), err
}

func (t *quotaTx) InsertUsage(ctx context.Context, userID uuid.UUID, day quota.Day, now time.Time) (storage.Outcome, error) {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO daily_quota_usage (user_id, day, count, updated_at) VALUES (?, ?, 0, ?)`,
		userID.String(), day.String(), toNanos(now),
	)
	return classify(err), err
}

func (t *quotaTx) LockUsage(ctx context.Context, userID uuid.UUID, day quota.Day) (*quota.Usage, error) {
	var (
		count     int
		updatedAt int64
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT count, updated_at FROM daily_quota_usage WHERE user_id = ? AND day = ?`,
		userID.String(), day.String(),
	).Scan(&count, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying usage row: %w", err)
	}
	return &quota.Usage{UserID: userID, Day: day, Count: count, UpdatedAt: fromNanos(updatedAt)}, nil
}

func (t *quotaTx) UpdateUsage(ctx context.Context, userID uuid.UUID, day quota.Day, count int, now time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE daily_quota_usage SET count = ?, updated_at = ? WHERE user_id = ? AND day = ?`,
		count, toNanos(now), userID.String(), day.String(),
	)
	if err != nil {
		return fmt.Errorf("updating usage row: %w", err)
	}
	return nil
}

func (t *quotaTx) CountReservations(ctx context.Context, userID uuid.UUID, day quota.Day, status quota.Status) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM quota_reservation WHERE user_id = ? AND day = ? AND status = ?`,
		userID.String(), day.String(), string(status),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting reservations: %w", err)
	}
	return n, nil
}

func (t *quotaTx) InsertReservation(ctx context.Context, r *quota.Reservation) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO quota_reservation (id, user_id, day, status, request_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.UserID.String(), r.Day.String(), string(r.Status),
		nullString(r.RequestID), toNanos(r.CreatedAt), toNanos(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting reservation: %w", err)
	}
	return nil
}

func (t *quotaTx) LockReservation(ctx context.Context, id, userID uuid.UUID, day quota.Day) (*quota.Reservation, error) {
	var (
		status    string
		requestID sql.NullString
		createdAt int64
		updatedAt int64
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT status, request_id, created_at, updated_at
		 FROM quota_reservation
		 WHERE id = ? AND user_id = ? AND day = ?`,
		id.String(), userID.String(), day.String(),
	).Scan(&status, &requestID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying reservation: %w", err)
	}
	return &quota.Reservation{
		ID:        id,
		UserID:    userID,
		Day:       day,
		Status:    quota.Status(status),
		RequestID: requestID.String,
		CreatedAt: fromNanos(createdAt),
		UpdatedAt: fromNanos(updatedAt),
	}, nil
}

func (t *quotaTx) UpdateReservationStatus(ctx context.Context, id uuid.UUID, status quota.Status, now time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE quota_reservation SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toNanos(now), id.String(),
	)
	if err != nil {
		return fmt.Errorf("updating reservation status: %w", err)
	}
	return nil
}

func (t *quotaTx) DeleteReservationsCreatedBefore(ctx context.Context, userID uuid.UUID, day quota.Day, status quota.Status, before time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM quota_reservation
		 WHERE user_id = ? AND day = ? AND status = ? AND created_at < ?`,
		userID.String(), day.String(), string(status), toNanos(before),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired reservations: %w", err)
	}
	return res.RowsAffected()
}

func (t *quotaTx) DeleteReservationsBeforeDay(ctx context.Context, userID uuid.UUID, day quota.Day) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM quota_reservation WHERE user_id = ? AND day < ?`,
		userID.String(), day.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting old reservations: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
