package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/aiox-platform/quotaguard/internal/auth"
	"github.com/aiox-platform/quotaguard/internal/metrics"
)

func stubHandlers() HandlerSet {
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	return HandlerSet{
		GetUsage:        ok,
		RefundQuota:     ok,
		AuthMiddleware:  auth.Middleware,
		AdminMiddleware: auth.AdminKey("secret"),
	}
}

func serve(h http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Health(t *testing.T) {
	h := NewRouter(RouterConfig{}, stubHandlers())

	rec := serve(h, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(h, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"not configured"`)
}

func TestRouter_ReadinessReportsDatabaseFailure(t *testing.T) {
	h := NewRouter(RouterConfig{Health: HealthChecks{
		Database: func(context.Context) error { return errors.New("down") },
		NATS:     func() bool { return false },
	}}, stubHandlers())

	rec := serve(h, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"unhealthy"`)
	assert.Contains(t, rec.Body.String(), `"nats":"unhealthy"`)
}

func TestRouter_UsageRequiresIdentity(t *testing.T) {
	h := NewRouter(RouterConfig{}, stubHandlers())

	rec := serve(h, http.MethodGet, "/api/v1/quota/usage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(h, http.MethodGet, "/api/v1/quota/usage", map[string]string{auth.UserIDHeader: "not-a-uuid"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(h, http.MethodGet, "/api/v1/quota/usage", map[string]string{auth.UserIDHeader: "5f0c7d4e-3b1a-4c39-9a53-2b7a0e6f1d20"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_AuditOnlyWhenConfigured(t *testing.T) {
	h := NewRouter(RouterConfig{}, stubHandlers())
	user := map[string]string{auth.UserIDHeader: "5f0c7d4e-3b1a-4c39-9a53-2b7a0e6f1d20"}

	rec := serve(h, http.MethodGet, "/api/v1/quota/audit", user)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_AdminRefundNeedsKey(t *testing.T) {
	h := NewRouter(RouterConfig{}, stubHandlers())

	tests := []struct {
		key  string
		want int
	}{
		{"", http.StatusUnauthorized},
		{"wrong", http.StatusForbidden},
		{"secret", http.StatusOK},
	}
	for _, tt := range tests {
		headers := map[string]string{}
		if tt.key != "" {
			headers[auth.AdminKeyHeader] = tt.key
		}
		rec := serve(h, http.MethodPost, "/api/v1/admin/quota/refund", headers)
		assert.Equal(t, tt.want, rec.Code, "key %q", tt.key)
	}
}

func TestRouter_IPRateLimitWrapsQuotaRoutes(t *testing.T) {
	hs := stubHandlers()
	hs.IPRateLimit = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	h := NewRouter(RouterConfig{}, hs)

	rec := serve(h, http.MethodGet, "/api/v1/quota/usage", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = serve(h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "quotaguard_"), "expected registered collectors")
}

func TestRouter_PanicsAreCountedInRequestMetrics(t *testing.T) {
	handlers := stubHandlers()
	handlers.DailyQuota = func(next http.Handler) http.Handler { return next }
	handlers.Gated = func(http.ResponseWriter, *http.Request) { panic("boom") }
	h := NewRouter(RouterConfig{}, handlers)

	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/quota/demo", "500")
	before := promtest.ToFloat64(counter)

	rec := serve(h, http.MethodPost, "/api/v1/quota/demo", map[string]string{auth.UserIDHeader: "5f0c7d4e-3b1a-4c39-9a53-2b7a0e6f1d20"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, before+1, promtest.ToFloat64(counter))
}
