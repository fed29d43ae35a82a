package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	inats "github.com/aiox-platform/quotaguard/internal/nats"
)

const consumerName = "quota-audit-persister"

// EntryWriter persists audit entries. *Repository satisfies it.
type EntryWriter interface {
	Insert(ctx context.Context, e *Entry) error
}

// Consumer listens on the access decision subject and persists entries to
// the database.
type Consumer struct {
	repo        EntryWriter
	consumerMgr *inats.ConsumerManager
}

// NewConsumer creates a new audit event Consumer.
func NewConsumer(repo EntryWriter, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		repo:        repo,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamEvents, consumerName, inats.SubjectDecision)
	if err != nil {
		return err
	}

	slog.Info("audit consumer started", "consumer", consumerName)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("audit consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleEvent(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) handleEvent(ctx context.Context, msg jetstream.Msg) {
	var event inats.AccessDecisionEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		slog.Error("audit consumer: unmarshaling event", "error", err)
		// A payload that cannot be decoded never will be.
		_ = msg.Term()
		return
	}

	entry := entryFromEvent(event)
	if err := c.repo.Insert(ctx, entry); err != nil {
		slog.Error("audit consumer: persisting entry", "error", err, "event_id", event.ID)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()

	slog.Debug("audit consumer: persisted event",
		"event_id", event.ID,
		"route", event.Route,
		"decision", event.Decision,
	)
}

// entryFromEvent converts a published decision into its stored form.
func entryFromEvent(event inats.AccessDecisionEvent) *Entry {
	e := &Entry{
		ID:         uuid.New(),
		EventID:    event.ID,
		IP:         event.IP,
		Route:      event.Route,
		Decision:   event.Decision,
		Reason:     event.Reason,
		Day:        event.Day,
		Used:       event.Used,
		Limit:      event.Limit,
		RequestID:  event.RequestID,
		OccurredAt: event.Timestamp,
	}

	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	if event.UserID != uuid.Nil {
		userID := event.UserID
		e.UserID = &userID
	}
	if len(e.RequestID) > 64 {
		e.RequestID = e.RequestID[:64]
	}
	if len(e.IP) > 64 {
		e.IP = e.IP[:64]
	}

	return e
}
