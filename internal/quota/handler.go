package quota

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aiox-platform/quotaguard/internal/api"
	"github.com/aiox-platform/quotaguard/internal/auth"
)

// RefundRequest is the body of the admin refund endpoint.
type RefundRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Day    string `json:"day" validate:"required,datetime=2006-01-02"`
}

// RefundResponse reports the ledger count after a refund.
type RefundResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Day    Day       `json:"day"`
	Count  int       `json:"count"`
}

// Handler serves the usage and refund endpoints.
type Handler struct {
	manager  *Manager
	loc      *time.Location
	timezone string
	limit    int
	validate *validator.Validate
}

func NewHandler(manager *Manager, loc *time.Location, timezone string, limit int) *Handler {
	return &Handler{
		manager:  manager,
		loc:      loc,
		timezone: timezone,
		limit:    limit,
		validate: validator.New(),
	}
}

// GetUsage returns the caller's consumption for the current quota day, as
// seen by the manager's clock.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	win := ComputeWindow(h.loc, h.manager.now())
	used, err := h.manager.Ledger().Usage(r.Context(), userID, win.Day)
	if err != nil {
		slog.Error("reading quota usage", "user_id", userID, "error", err)
		api.HandleError(w, api.ErrServiceUnavailable)
		return
	}

	api.JSON(w, http.StatusOK, UsageStatus{
		Day:        win.Day,
		Timezone:   h.timezone,
		Used:       used,
		Limit:      h.limit,
		Remaining:  max(0, h.limit-used),
		ResetsAt:   win.ResetsAt,
		RetryAfter: win.RetryAfter,
	})
}

// Refund gives back one finalized unit, for when a request turned out to be
// unusable after it was counted.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		api.HandleError(w, api.NewValidationError("user_id must be a UUID"))
		return
	}
	day, err := ParseDay(req.Day)
	if err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	count, err := h.manager.RollbackIncrement(r.Context(), userID, day)
	switch {
	case errors.Is(err, ErrInvalidArgument):
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	case err != nil:
		slog.Error("refunding quota", "user_id", userID, "day", day, "error", err)
		api.HandleError(w, api.ErrServiceUnavailable)
		return
	}

	slog.Info("quota refunded", "user_id", userID, "day", day, "count", count)
	api.JSON(w, http.StatusOK, RefundResponse{UserID: userID, Day: day, Count: count})
}
