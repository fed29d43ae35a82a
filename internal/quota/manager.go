package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/quotaguard/internal/metrics"
)

// maxRequestIDLen matches the width of quota_reservation.request_id.
const maxRequestIDLen = 64

// errAbort rolls back a savepoint for an expected outcome such as a denied
// reservation. It never leaves the package.
var errAbort = errors.New("quota: savepoint aborted")

// Manager runs the reserve, finalize and release protocol on top of the
// ledger.
type Manager struct {
	store  Store
	ledger *Ledger
	cfg    Config
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for timestamps and the TTL sweep.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a Manager. Zero fields in cfg take their defaults.
func NewManager(store Store, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		ledger: NewLedger(store),
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ledger exposes the manager's ledger for read-only callers.
func (m *Manager) Ledger() *Ledger { return m.ledger }

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// ReserveRequest identifies a reservation attempt.
type ReserveRequest struct {
	UserID    uuid.UUID
	Day       Day
	Limit     int
	RequestID string
}

// Reserve claims one unit of the user's daily quota. A denial is reported
// through the result, not an error. Errors match ErrUnavailable or
// ErrInvalidArgument.
func (m *Manager) Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error) {
	if err := validateKey(req.UserID, req.Day); err != nil {
		return ReserveResult{}, err
	}
	start := time.Now()
	defer func() { metrics.QuotaReserveDuration.Observe(time.Since(start).Seconds()) }()

	if _, err := m.Sweep(ctx, req.UserID, req.Day); err != nil {
		slog.Warn("quota: reservation sweep failed", "user_id", req.UserID, "day", req.Day, "error", err)
	}

	if m.cfg.GlobalDailyLimit > 0 {
		res, denied, err := m.checkGlobal(ctx, req)
		if err != nil {
			return ReserveResult{}, unavailable("reserve", err)
		}
		if denied {
			return res, nil
		}
	}

	now := m.now()
	var res ReserveResult
	err := m.store.InTx(ctx, func(tx Tx) error {
		err := tx.Nested(ctx, func(tx Tx) error {
			usage, err := m.ledger.Ensure(ctx, tx, req.UserID, req.Day, now)
			if err != nil {
				return err
			}

			active, err := tx.CountReservations(ctx, req.UserID, req.Day, StatusReserved)
			if err != nil {
				return fmt.Errorf("counting active reservations: %w", err)
			}

			res = ReserveResult{Consumed: usage.Count, ActiveReserved: active}
			switch {
			case active >= m.cfg.MaxActiveReservations:
				res.Reason = DenyActiveReservation
				return errAbort
			case usage.Count+active >= req.Limit:
				res.Reason = DenyDailyLimit
				return errAbort
			}

			r := &Reservation{
				ID:        uuid.New(),
				UserID:    req.UserID,
				Day:       req.Day,
				Status:    StatusReserved,
				RequestID: truncate(req.RequestID, maxRequestIDLen),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.InsertReservation(ctx, r); err != nil {
				return fmt.Errorf("inserting reservation: %w", err)
			}

			res.Allowed = true
			res.ActiveReserved = active + 1
			res.ReservationID = r.ID
			return nil
		})
		if errors.Is(err, errAbort) {
			return nil
		}
		return err
	})
	if err != nil {
		metrics.QuotaDecisionsTotal.WithLabelValues("error", "unavailable").Inc()
		return ReserveResult{}, unavailable("reserve", err)
	}

	if res.Allowed {
		metrics.QuotaDecisionsTotal.WithLabelValues("allowed", "").Inc()
	} else {
		metrics.QuotaDecisionsTotal.WithLabelValues("denied", string(res.Reason)).Inc()
	}
	return res, nil
}

func (m *Manager) checkGlobal(ctx context.Context, req ReserveRequest) (ReserveResult, bool, error) {
	total, err := m.ledger.GlobalUsage(ctx, req.Day)
	if err != nil {
		return ReserveResult{}, false, err
	}
	if total < m.cfg.GlobalDailyLimit {
		return ReserveResult{}, false, nil
	}

	consumed, err := m.ledger.Usage(ctx, req.UserID, req.Day)
	if err != nil {
		return ReserveResult{}, false, err
	}
	metrics.QuotaDecisionsTotal.WithLabelValues("denied", string(DenyGlobalLimit)).Inc()
	slog.Warn("quota: global daily limit reached", "day", req.Day, "total", total, "limit", m.cfg.GlobalDailyLimit)
	return ReserveResult{Reason: DenyGlobalLimit, Consumed: consumed}, true, nil
}

// Finalize confirms a reservation and increments the ledger by one. It
// returns Finalized false with the current count when the reservation is
// missing or no longer reserved.
func (m *Manager) Finalize(ctx context.Context, reservationID, userID uuid.UUID, day Day) (FinalizeResult, error) {
	if err := validateKey(userID, day); err != nil {
		return FinalizeResult{}, err
	}

	now := m.now()
	var res FinalizeResult
	if reservationID != uuid.Nil {
		err := m.store.InTx(ctx, func(tx Tx) error {
			err := tx.Nested(ctx, func(tx Tx) error {
				r, err := tx.LockReservation(ctx, reservationID, userID, day)
				if err != nil {
					return fmt.Errorf("locking reservation: %w", err)
				}
				if r == nil || r.Status != StatusReserved {
					return errAbort
				}

				usage, err := m.ledger.Ensure(ctx, tx, userID, day, now)
				if err != nil {
					return err
				}
				count := usage.Count + 1
				if err := tx.UpdateUsage(ctx, userID, day, count, now); err != nil {
					return fmt.Errorf("incrementing usage: %w", err)
				}
				if err := tx.UpdateReservationStatus(ctx, reservationID, StatusConsumed, now); err != nil {
					return fmt.Errorf("consuming reservation: %w", err)
				}

				res = FinalizeResult{Finalized: true, Count: count}
				return nil
			})
			if errors.Is(err, errAbort) {
				return nil
			}
			return err
		})
		if err != nil {
			return FinalizeResult{}, unavailable("finalize", err)
		}
	}

	if res.Finalized {
		metrics.ReservationTransitionsTotal.WithLabelValues(string(StatusConsumed)).Inc()
		return res, nil
	}

	count, err := m.ledger.Usage(ctx, userID, day)
	if err != nil {
		return FinalizeResult{}, unavailable("finalize", err)
	}
	return FinalizeResult{Count: count}, nil
}

// Release cancels a reservation without touching the ledger. It reports true
// only when this call moved the reservation from reserved to released;
// releasing a missing, consumed or already released reservation is a no-op.
func (m *Manager) Release(ctx context.Context, reservationID, userID uuid.UUID, day Day) (bool, error) {
	if err := validateKey(userID, day); err != nil {
		return false, err
	}
	if reservationID == uuid.Nil {
		return false, nil
	}

	now := m.now()
	var released bool
	err := m.store.InTx(ctx, func(tx Tx) error {
		r, err := tx.LockReservation(ctx, reservationID, userID, day)
		if err != nil {
			return fmt.Errorf("locking reservation: %w", err)
		}
		if r == nil || r.Status != StatusReserved {
			return nil
		}
		if err := tx.UpdateReservationStatus(ctx, reservationID, StatusReleased, now); err != nil {
			return fmt.Errorf("releasing reservation: %w", err)
		}
		released = true
		return nil
	})
	if err != nil {
		return false, unavailable("release", err)
	}

	if released {
		metrics.ReservationTransitionsTotal.WithLabelValues(string(StatusReleased)).Inc()
	}
	return released, nil
}

// RollbackIncrement refunds one finalized unit for the user and day, never
// going below zero. It does not create a ledger row.
func (m *Manager) RollbackIncrement(ctx context.Context, userID uuid.UUID, day Day) (int, error) {
	if err := validateKey(userID, day); err != nil {
		return 0, err
	}

	now := m.now()
	var count int
	var refunded bool
	err := m.store.InTx(ctx, func(tx Tx) error {
		usage, err := tx.LockUsage(ctx, userID, day)
		if err != nil {
			return fmt.Errorf("locking usage row: %w", err)
		}
		if usage == nil {
			return nil
		}
		count = usage.Count
		if count == 0 {
			return nil
		}
		count--
		if err := tx.UpdateUsage(ctx, userID, day, count, now); err != nil {
			return fmt.Errorf("decrementing usage: %w", err)
		}
		refunded = true
		return nil
	})
	if err != nil {
		return 0, unavailable("rollback", err)
	}

	if refunded {
		metrics.QuotaRefundsTotal.Inc()
	}
	return count, nil
}

// Sweep deletes the user's reservations that stayed reserved past the TTL
// and every reservation older than the retention window. It is advisory
// maintenance: failures are counted and returned, and callers usually only
// log them.
func (m *Manager) Sweep(ctx context.Context, userID uuid.UUID, day Day) (int64, error) {
	now := m.now()
	var expired int64
	err := m.store.InTx(ctx, func(tx Tx) error {
		n, err := tx.DeleteReservationsCreatedBefore(ctx, userID, day, StatusReserved, now.Add(-m.cfg.ReservationTTL))
		if err != nil {
			return fmt.Errorf("deleting expired reservations: %w", err)
		}
		expired = n

		if _, err := tx.DeleteReservationsBeforeDay(ctx, userID, day.AddDays(-m.cfg.RetentionDays)); err != nil {
			return fmt.Errorf("pruning old reservations: %w", err)
		}
		return nil
	})
	if err != nil {
		metrics.MaintenanceFailuresTotal.WithLabelValues("reservation_sweep").Inc()
		return 0, err
	}

	if expired > 0 {
		metrics.ReservationsExpiredTotal.Add(float64(expired))
		slog.Debug("quota: expired reservations swept", "user_id", userID, "day", day, "count", expired)
	}
	return expired, nil
}

func validateKey(userID uuid.UUID, day Day) error {
	if userID == uuid.Nil {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	if day.IsZero() {
		return fmt.Errorf("%w: day is required", ErrInvalidArgument)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
