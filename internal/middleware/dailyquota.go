package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/quotaguard/internal/api"
	"github.com/aiox-platform/quotaguard/internal/auth"
	inats "github.com/aiox-platform/quotaguard/internal/nats"
	"github.com/aiox-platform/quotaguard/internal/quota"
)

// QuotaReserver is satisfied by *quota.Manager.
type QuotaReserver interface {
	Reserve(ctx context.Context, req quota.ReserveRequest) (quota.ReserveResult, error)
	Finalize(ctx context.Context, reservationID, userID uuid.UUID, day quota.Day) (quota.FinalizeResult, error)
	Release(ctx context.Context, reservationID, userID uuid.UUID, day quota.Day) (bool, error)
}

type DailyQuotaConfig struct {
	// Limit is the per-user number of successful requests per quota day.
	Limit int
	// Location decides where the quota day starts. Nil means UTC.
	Location *time.Location
	// Owners skip the quota entirely when BypassOwners is set.
	Owners       []uuid.UUID
	BypassOwners bool
	// Now overrides the clock used to pick the quota day.
	Now func() time.Time
}

// DailyQuota reserves one unit of the caller's daily quota before running
// next. The reservation is finalized when next answers with a status below
// 400 and released otherwise, including when next panics. It must run after
// auth.Middleware.
func DailyQuota(reserver QuotaReserver, cfg DailyQuotaConfig, decisions *Decisions) func(http.Handler) http.Handler {
	owners := make(map[uuid.UUID]struct{}, len(cfg.Owners))
	for _, id := range cfg.Owners {
		owners[id] = struct{}{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID, ok := auth.GetUserID(ctx)
			if !ok {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			win := quota.ComputeWindow(cfg.Location, now())
			event := inats.AccessDecisionEvent{
				Route:  r.URL.Path,
				UserID: userID,
				IP:     clientIP(r),
				Day:    win.Day.String(),
				Limit:  cfg.Limit,
			}

			if _, owner := owners[userID]; owner && cfg.BypassOwners {
				event.Decision = inats.DecisionBypass
				event.Reason = "owner"
				decisions.Record(ctx, event)
				next.ServeHTTP(w, r)
				return
			}

			res, err := reserver.Reserve(ctx, quota.ReserveRequest{
				UserID:    userID,
				Day:       win.Day,
				Limit:     cfg.Limit,
				RequestID: GetRequestID(ctx),
			})
			if err != nil {
				event.Decision = inats.DecisionError
				event.Reason = "quota system error"
				decisions.Record(ctx, event)
				slog.Error("quota reservation failed", "user_id", userID, "day", win.Day, "error", err)
				api.JSONCodedError(w, http.StatusInternalServerError, api.CodeQuotaError, "quota system error", nil)
				return
			}

			event.Used = res.Consumed
			if !res.Allowed {
				event.Decision = inats.DecisionDeny
				event.Reason = string(res.Reason)
				decisions.Record(ctx, event)
				writeQuotaDenial(w, res, cfg.Limit, win)
				return
			}

			event.Decision = inats.DecisionAllow
			decisions.Record(ctx, event)

			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			completed := false
			defer func() {
				settle(context.WithoutCancel(ctx), reserver, res.ReservationID, userID, win.Day, completed && ww.status < http.StatusBadRequest)
			}()
			next.ServeHTTP(ww, r)
			completed = true
		})
	}
}

func writeQuotaDenial(w http.ResponseWriter, res quota.ReserveResult, limit int, win quota.Window) {
	switch res.Reason {
	case quota.DenyActiveReservation:
		api.JSONCodedError(w, http.StatusConflict, api.CodeReservationInProgress,
			"a previous request is still being processed", map[string]any{
				"active_reserved": res.ActiveReserved,
			})
	case quota.DenyGlobalLimit:
		w.Header().Set("Retry-After", strconv.Itoa(max(1, win.RetryAfter)))
		api.JSONCodedError(w, http.StatusTooManyRequests, api.CodeGlobalLimitReached,
			"the service has reached its daily capacity", map[string]any{
				"resets_at": win.ResetsAt.Format(time.RFC3339),
			})
	default:
		w.Header().Set("Retry-After", strconv.Itoa(max(1, win.RetryAfter)))
		api.JSONCodedError(w, http.StatusTooManyRequests, api.CodeDailyLimitReached,
			"daily usage limit reached", map[string]any{
				"limit":     limit,
				"used":      res.Consumed,
				"resets_at": win.ResetsAt.Format(time.RFC3339),
			})
	}
}

// settle finalizes or releases the reservation taken for this request.
func settle(ctx context.Context, reserver QuotaReserver, reservationID, userID uuid.UUID, day quota.Day, success bool) {
	if success {
		res, err := reserver.Finalize(ctx, reservationID, userID, day)
		if err != nil {
			slog.Error("quota finalize failed", "reservation_id", reservationID, "user_id", userID, "error", err)
			return
		}
		if !res.Finalized {
			slog.Warn("quota reservation was no longer active at finalize", "reservation_id", reservationID, "user_id", userID)
		}
		return
	}

	if _, err := reserver.Release(ctx, reservationID, userID, day); err != nil {
		slog.Error("quota release failed", "reservation_id", reservationID, "user_id", userID, "error", err)
	}
}
