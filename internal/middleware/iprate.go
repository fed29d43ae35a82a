package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aiox-platform/quotaguard/internal/api"
	inats "github.com/aiox-platform/quotaguard/internal/nats"
	"github.com/aiox-platform/quotaguard/internal/ratelimit"
)

// IPLimiter is satisfied by *ratelimit.Limiter.
type IPLimiter interface {
	CheckAndIncrement(ctx context.Context, ip string, limit int) (ratelimit.Decision, error)
}

// IPRateLimit allows limit requests per client address per minute. It fails
// closed: a limiter error is answered with 503.
func IPRateLimit(limiter IPLimiter, limit int, decisions *Decisions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			d, err := limiter.CheckAndIncrement(r.Context(), ip, limit)
			if err != nil {
				decisions.Record(r.Context(), inats.AccessDecisionEvent{
					Route:    r.URL.Path,
					IP:       ip,
					Decision: inats.DecisionError,
					Reason:   "rate limiter unavailable",
					Limit:    limit,
				})
				api.JSONCodedError(w, http.StatusServiceUnavailable, api.CodeUnavailable,
					"rate limiter unavailable", nil)
				return
			}

			if !d.Allowed {
				decisions.Record(r.Context(), inats.AccessDecisionEvent{
					Route:    r.URL.Path,
					IP:       ip,
					Decision: inats.DecisionDeny,
					Reason:   "ip rate limit exceeded",
					Used:     d.Count,
					Limit:    limit,
				})
				w.Header().Set("Retry-After", strconv.Itoa(max(1, d.RetryAfter)))
				api.JSONCodedError(w, http.StatusTooManyRequests, api.CodeRateLimited,
					"too many requests from this address", map[string]any{
						"limit":     limit,
						"count":     d.Count,
						"resets_at": d.ResetsAt.Format(time.RFC3339),
					})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote host.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return ratelimit.NormalizeIP(first)
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return ratelimit.NormalizeIP(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ratelimit.NormalizeIP(r.RemoteAddr)
	}
	return ratelimit.NormalizeIP(host)
}
