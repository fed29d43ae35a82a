package quota_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/quotaguard/internal/quota"
	"github.com/aiox-platform/quotaguard/internal/testutil"
)

// noUpsertStore hides the native upsert so the ledger takes its
// lock-then-insert path.
type noUpsertStore struct {
	quota.Store
}

func (noUpsertStore) Capabilities() quota.Capabilities {
	return quota.Capabilities{}
}

// lostRaceTx reports the ledger row as missing on the first lock attempt,
// as if another writer inserted it right after the read.
type lostRaceTx struct {
	quota.Tx
	missed bool
}

func (t *lostRaceTx) LockUsage(ctx context.Context, userID uuid.UUID, day quota.Day) (*quota.Usage, error) {
	if !t.missed {
		t.missed = true
		return nil, nil
	}
	return t.Tx.LockUsage(ctx, userID, day)
}

func TestLedger_UsageNeverCreatesRow(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	ledger := quota.NewLedger(store)
	ctx := context.Background()
	userID, day := uuid.New(), today(t)

	used, err := ledger.Usage(ctx, userID, day)
	require.NoError(t, err)
	assert.Equal(t, 0, used)

	var rows int
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM daily_quota_usage`).Scan(&rows))
	assert.Equal(t, 0, rows)
}

func TestLedger_EnsureIsIdempotent(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	ledger := quota.NewLedger(store)
	ctx := context.Background()
	userID, day := uuid.New(), today(t)
	now := time.Now()

	for i := 0; i < 3; i++ {
		err := store.InTx(ctx, func(tx quota.Tx) error {
			usage, err := ledger.Ensure(ctx, tx, userID, day, now)
			if err != nil {
				return err
			}
			assert.Equal(t, 0, usage.Count)
			assert.Equal(t, userID, usage.UserID)
			return nil
		})
		require.NoError(t, err)
	}

	var rows int
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM daily_quota_usage WHERE user_id = ?`, userID.String()).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestLedger_ConcurrentFirstUseCreatesSingleRow(t *testing.T) {
	tests := []struct {
		name string
		wrap func(quota.Store) quota.Store
	}{
		{"upsert", func(s quota.Store) quota.Store { return s }},
		{"fallback", func(s quota.Store) quota.Store { return noUpsertStore{s} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sqliteStore := testutil.NewSQLiteStore(t)
			m := quota.NewManager(tt.wrap(sqliteStore), quota.DefaultConfig())
			userID, day := uuid.New(), today(t)

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := m.Reserve(context.Background(), quota.ReserveRequest{UserID: userID, Day: day, Limit: 5})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			var rows int
			require.NoError(t, sqliteStore.DB().QueryRowContext(context.Background(),
				`SELECT COUNT(*) FROM daily_quota_usage WHERE user_id = ?`, userID.String()).Scan(&rows))
			assert.Equal(t, 1, rows)
		})
	}
}

func TestLedger_EnsureRereadsAfterInsertConflict(t *testing.T) {
	sqliteStore := testutil.NewSQLiteStore(t)
	store := noUpsertStore{sqliteStore}
	m := quota.NewManager(store, quota.DefaultConfig())
	ctx := context.Background()
	userID, day := uuid.New(), today(t)

	res := reserve(t, m, userID, day, 5)
	_, err := m.Finalize(ctx, res.ReservationID, userID, day)
	require.NoError(t, err)

	ledger := quota.NewLedger(store)
	err = store.InTx(ctx, func(tx quota.Tx) error {
		usage, err := ledger.Ensure(ctx, &lostRaceTx{Tx: tx}, userID, day, time.Now())
		if err != nil {
			return err
		}
		assert.Equal(t, 1, usage.Count)
		return nil
	})
	require.NoError(t, err)

	used, err := ledger.Usage(ctx, userID, day)
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestLedger_GlobalUsage(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	m := quota.NewManager(store, quota.DefaultConfig())
	ctx := context.Background()
	day := today(t)

	for i := 0; i < 3; i++ {
		userID := uuid.New()
		res := reserve(t, m, userID, day, 5)
		_, err := m.Finalize(ctx, res.ReservationID, userID, day)
		require.NoError(t, err)
	}

	total, err := m.Ledger().GlobalUsage(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	total, err = m.Ledger().GlobalUsage(ctx, day.AddDays(1))
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}
