package quota_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/quotaguard/internal/auth"
	"github.com/aiox-platform/quotaguard/internal/quota"
)

func consume(t *testing.T, m *quota.Manager, userID uuid.UUID, day quota.Day, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		res := reserve(t, m, userID, day, 100)
		require.True(t, res.Allowed)
		fin, err := m.Finalize(context.Background(), res.ReservationID, userID, day)
		require.NoError(t, err)
		require.True(t, fin.Finalized)
	}
}

func TestHandler_GetUsage(t *testing.T) {
	m, _, _ := setupManager(t, quota.DefaultConfig())
	h := quota.NewHandler(m, time.UTC, "UTC", 5)
	userID := uuid.New()
	consume(t, m, userID, today(t), 2)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quota/usage", nil)
	req = req.WithContext(auth.WithUserID(req.Context(), userID))
	rec := httptest.NewRecorder()
	h.GetUsage(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data quota.UsageStatus `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "2024-06-01", body.Data.Day.String())
	assert.Equal(t, 2, body.Data.Used)
	assert.Equal(t, 5, body.Data.Limit)
	assert.Equal(t, 3, body.Data.Remaining)
	assert.Equal(t, "UTC", body.Data.Timezone)
	assert.Equal(t, 12*60*60, body.Data.RetryAfter)
	assert.True(t, body.Data.ResetsAt.Equal(time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)))
}

func TestHandler_GetUsageRequiresIdentity(t *testing.T) {
	m, _, _ := setupManager(t, quota.DefaultConfig())
	h := quota.NewHandler(m, time.UTC, "UTC", 5)

	rec := httptest.NewRecorder()
	h.GetUsage(rec, httptest.NewRequest(http.MethodGet, "/api/v1/quota/usage", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func postRefund(h *quota.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/quota/refund", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.Refund(rec, req)
	return rec
}

func TestHandler_Refund(t *testing.T) {
	m, _, _ := setupManager(t, quota.DefaultConfig())
	h := quota.NewHandler(m, time.UTC, "UTC", 5)
	userID := uuid.New()
	consume(t, m, userID, today(t), 2)

	rec := postRefund(h, `{"user_id":"`+userID.String()+`","day":"2024-06-01"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data quota.RefundResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, userID, body.Data.UserID)
	assert.Equal(t, 1, body.Data.Count)

	used, err := m.Ledger().Usage(context.Background(), userID, today(t))
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestHandler_RefundWithoutUsageIsZero(t *testing.T) {
	m, _, _ := setupManager(t, quota.DefaultConfig())
	h := quota.NewHandler(m, time.UTC, "UTC", 5)

	rec := postRefund(h, `{"user_id":"`+uuid.NewString()+`","day":"2024-06-01"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

func TestHandler_RefundValidation(t *testing.T) {
	m, _, _ := setupManager(t, quota.DefaultConfig())
	h := quota.NewHandler(m, time.UTC, "UTC", 5)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing user", `{"day":"2024-06-01"}`},
		{"bad uuid", `{"user_id":"nope","day":"2024-06-01"}`},
		{"bad day", `{"user_id":"` + uuid.NewString() + `","day":"06/01/2024"}`},
		{"nil user", `{"user_id":"00000000-0000-0000-0000-000000000000","day":"2024-06-01"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postRefund(h, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}
