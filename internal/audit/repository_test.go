//go:build integration

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/quotaguard/internal/testutil"
)

func TestRepository_InsertIsIdempotentAndListable(t *testing.T) {
	repo := NewRepository(testutil.NewPostgresPool(t))
	ctx := context.Background()
	userID := uuid.New()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	entry := &Entry{
		EventID:    uuid.New(),
		UserID:     &userID,
		Route:      "/api/v1/quota/demo",
		Decision:   "deny",
		Reason:     "daily_limit",
		Day:        "2024-06-01",
		Used:       5,
		Limit:      5,
		OccurredAt: base,
	}
	require.NoError(t, repo.Insert(ctx, entry))
	// Redelivery of the same event.
	dup := *entry
	dup.ID = uuid.Nil
	require.NoError(t, repo.Insert(ctx, &dup))

	require.NoError(t, repo.Insert(ctx, &Entry{
		EventID:    uuid.New(),
		UserID:     &userID,
		Route:      "/api/v1/quota/demo",
		Decision:   "allow",
		OccurredAt: base.Add(time.Minute),
	}))
	require.NoError(t, repo.Insert(ctx, &Entry{
		EventID:    uuid.New(),
		IP:         "203.0.113.9",
		Route:      "/api/v1/quota/usage",
		Decision:   "deny",
		OccurredAt: base,
	}))

	entries, total, err := repo.ListByUser(ctx, userID, DefaultListParams())
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, entries, 2)
	assert.Equal(t, "allow", entries[0].Decision, "newest first")
	assert.Equal(t, "2024-06-01", entries[1].Day)
	assert.Equal(t, "", entries[0].Day)

	params := DefaultListParams()
	params.Decision = "deny"
	entries, total, err = repo.ListByUser(ctx, userID, params)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "daily_limit", entries[0].Reason)
}
