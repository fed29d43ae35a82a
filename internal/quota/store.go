package quota

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/quotaguard/internal/storage"
)

// Capabilities describes what a backing store can do natively.
type Capabilities struct {
	// Upsert reports support for a single-statement insert-if-absent.
	Upsert bool
	// RowLocks reports support for SELECT ... FOR UPDATE. Stores without it
	// must serialize writers at transaction start instead.
	RowLocks bool
}

// Store is the transactional backend for the ledger and reservations.
type Store interface {
	Capabilities() Capabilities

	// InTx runs fn in a transaction. It commits when fn returns nil and rolls
	// back otherwise.
	InTx(ctx context.Context, fn func(Tx) error) error

	// Usage reads the ledger count without locking. It returns 0 when no row
	// exists.
	Usage(ctx context.Context, userID uuid.UUID, day Day) (int, error)

	// GlobalUsage sums every user's ledger count for day without locking.
	GlobalUsage(ctx context.Context, day Day) (int, error)
}

// Tx is the set of statements the manager issues inside a transaction.
// Methods whose statement may lose a unique-constraint race report it through
// a storage.Outcome.
type Tx interface {
	// Nested runs fn inside a savepoint. A non-nil return from fn rolls back
	// to the savepoint and leaves the enclosing transaction usable.
	Nested(ctx context.Context, fn func(Tx) error) error

	InsertUsageIfAbsent(ctx context.Context, userID uuid.UUID, day Day, now time.Time) (storage.Outcome, error)
	InsertUsage(ctx context.Context, userID uuid.UUID, day Day, now time.Time) (storage.Outcome, error)
	// LockUsage returns the ledger row under an exclusive lock, or nil when
	// it does not exist.
	LockUsage(ctx context.Context, userID uuid.UUID, day Day) (*Usage, error)
	UpdateUsage(ctx context.Context, userID uuid.UUID, day Day, count int, now time.Time) error

	CountReservations(ctx context.Context, userID uuid.UUID, day Day, status Status) (int, error)
	InsertReservation(ctx context.Context, r *Reservation) error
	// LockReservation returns the reservation under an exclusive lock, or nil
	// when no reservation with that id belongs to the user and day.
	LockReservation(ctx context.Context, id, userID uuid.UUID, day Day) (*Reservation, error)
	UpdateReservationStatus(ctx context.Context, id uuid.UUID, status Status, now time.Time) error

	DeleteReservationsCreatedBefore(ctx context.Context, userID uuid.UUID, day Day, status Status, before time.Time) (int64, error)
	DeleteReservationsBeforeDay(ctx context.Context, userID uuid.UUID, day Day) (int64, error)
}
