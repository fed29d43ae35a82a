package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/quotaguard/internal/metrics"
	inats "github.com/aiox-platform/quotaguard/internal/nats"
)

const publishTimeout = 2 * time.Second

// DecisionPublisher ships access decisions off-process. *nats.Publisher
// satisfies it.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, event inats.AccessDecisionEvent) error
}

// Decisions logs every admission decision and, when a publisher is set,
// publishes it for the audit log. Publish failures never affect the request.
// A nil *Decisions only logs.
type Decisions struct {
	publisher DecisionPublisher
}

// NewDecisions accepts a nil publisher, in which case decisions are only logged.
func NewDecisions(publisher DecisionPublisher) *Decisions {
	return &Decisions{publisher: publisher}
}

func (d *Decisions) Record(ctx context.Context, event inats.AccessDecisionEvent) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = GetRequestID(ctx)
	}

	attrs := []any{
		"route", event.Route,
		"decision", event.Decision,
		"reason", event.Reason,
		"request_id", event.RequestID,
	}
	if event.UserID != uuid.Nil {
		attrs = append(attrs, "user_id", event.UserID)
	}
	if event.IP != "" {
		attrs = append(attrs, "ip", event.IP)
	}
	slog.Info("access decision", attrs...)

	if d == nil || d.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := d.publisher.PublishDecision(pubCtx, event); err != nil {
		metrics.EventsPublishFailuresTotal.Inc()
		slog.Warn("publishing access decision failed", "event_id", event.ID, "error", err)
	}
}
