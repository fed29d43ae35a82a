package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aiox-platform/quotaguard/internal/api"
	mw "github.com/aiox-platform/quotaguard/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Quota handlers
	GetUsage    http.HandlerFunc
	RefundQuota http.HandlerFunc

	// ListAudit is nil when no audit store is configured.
	ListAudit http.HandlerFunc

	// Gated is an optional handler mounted behind the daily quota gate at
	// /api/v1/quota/demo, for smoke-testing the reserve/finalize cycle.
	Gated http.HandlerFunc

	AuthMiddleware  func(http.Handler) http.Handler
	AdminMiddleware func(http.Handler) http.Handler
	IPRateLimit     func(http.Handler) http.Handler
	DailyQuota      func(http.Handler) http.Handler
}

// HealthChecks are probed by /health/ready. A nil check is reported as
// "not configured".
type HealthChecks struct {
	Database func(ctx context.Context) error
	NATS     func() bool
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	Health             HealthChecks
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Metrics)
	r.Use(mw.Recovery)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		api.JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"nats":     "healthy",
		}
		status := http.StatusOK

		if cfg.Health.Database == nil {
			health["database"] = "not configured"
		} else if err := cfg.Health.Database(r.Context()); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if cfg.Health.NATS == nil {
			health["nats"] = "not configured"
		} else if !cfg.Health.NATS() {
			// Decision events are best-effort, so NATS never fails readiness.
			health["nats"] = "unhealthy"
			health["status"] = "degraded"
		}

		api.JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/quota", func(r chi.Router) {
			if h.IPRateLimit != nil {
				r.Use(h.IPRateLimit)
			}
			r.Use(h.AuthMiddleware)

			r.Get("/usage", h.GetUsage)
			if h.ListAudit != nil {
				r.Get("/audit", h.ListAudit)
			}
			if h.Gated != nil {
				r.With(h.DailyQuota).Post("/demo", h.Gated)
			}
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.AdminMiddleware)
			r.Post("/quota/refund", h.RefundQuota)
		})
	})

	return r
}
