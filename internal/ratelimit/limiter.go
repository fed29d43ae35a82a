// Package ratelimit caps how many requests a network address may issue per
// fixed one-minute window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aiox-platform/quotaguard/internal/metrics"
	"github.com/aiox-platform/quotaguard/internal/storage"
)

const (
	window = time.Minute
	// maxIPLen matches the width of ip_rate_limit.ip.
	maxIPLen = 64
	// UnknownIP is recorded when the caller has no usable address.
	UnknownIP = "unknown"
)

// ErrUnavailable is returned when the window store fails for a reason other
// than a resolvable unique-constraint race. The accompanying decision always
// denies.
var ErrUnavailable = errors.New("rate limiter unavailable")

// Hit is the result of one atomic increment attempt.
type Hit struct {
	// Count is the window count after the attempt, or the count before it
	// when the attempt was over the limit and rolled back.
	Count   int
	Allowed bool
}

// Store persists per-(ip, window) counters.
type Store interface {
	// IncrementWindow atomically creates or increments the counter for ip in
	// the window starting at windowStart. An increment that would exceed
	// limit must not be persisted.
	IncrementWindow(ctx context.Context, ip string, windowStart, now time.Time, limit int) (Hit, storage.Outcome, error)

	// PruneWindows deletes windows that started before the given instant.
	PruneWindows(ctx context.Context, before time.Time) (int64, error)
}

// Decision is returned by CheckAndIncrement.
type Decision struct {
	Allowed  bool      `json:"allowed"`
	Count    int       `json:"count"`
	ResetsAt time.Time `json:"resets_at"`
	// RetryAfter is the number of whole seconds until ResetsAt, rounded up.
	RetryAfter int `json:"retry_after_seconds"`
}

type Limiter struct {
	store     Store
	now       func() time.Time
	retention time.Duration
}

type Option func(*Limiter)

// WithClock replaces the wall clock used to pick the window.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithRetention sets how old a window must be before it is pruned.
func WithRetention(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.retention = d
		}
	}
}

func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:     store,
		now:       time.Now,
		retention: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndIncrement counts one request from ip against the current window.
// A unique-constraint race on the window's first insert is retried once;
// any failure after that denies with Count 0 and an ErrUnavailable error.
func (l *Limiter) CheckAndIncrement(ctx context.Context, ip string, limit int) (Decision, error) {
	ip = NormalizeIP(ip)
	now := l.now().UTC()
	windowStart := now.Truncate(window)
	resetsAt := windowStart.Add(window)
	d := Decision{ResetsAt: resetsAt, RetryAfter: secondsUntil(now, resetsAt)}

	if _, err := l.store.PruneWindows(ctx, now.Add(-l.retention)); err != nil {
		metrics.MaintenanceFailuresTotal.WithLabelValues("ratelimit_prune").Inc()
		slog.Warn("ratelimit: pruning windows failed", "error", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		hit, outcome, err := l.store.IncrementWindow(ctx, ip, windowStart, now, limit)
		if outcome == storage.OK {
			d.Allowed = hit.Allowed
			d.Count = hit.Count
			if d.Allowed {
				metrics.RateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
			} else {
				metrics.RateLimitDecisionsTotal.WithLabelValues("denied").Inc()
			}
			return d, nil
		}

		lastErr = err
		if outcome != storage.Conflict {
			break
		}
		metrics.StorageConflictsTotal.WithLabelValues("ratelimit_increment").Inc()
		slog.Debug("ratelimit: window insert raced, retrying", "ip", ip, "attempt", attempt+1)
	}

	metrics.RateLimitDecisionsTotal.WithLabelValues("error").Inc()
	slog.Error("ratelimit: check failed, denying request", "ip", ip, "error", lastErr)
	return d, fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}

// NormalizeIP trims ip, substitutes UnknownIP for an empty value and caps
// it at maxIPLen characters.
func NormalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return UnknownIP
	}
	if r := []rune(ip); len(r) > maxIPLen {
		ip = string(r[:maxIPLen])
	}
	return ip
}

func secondsUntil(now, t time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
