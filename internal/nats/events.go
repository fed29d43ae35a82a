package nats

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamEvents = "QUOTA_EVENTS"
)

// Subject constants.
const (
	SubjectEvents   = "quotaguard.events.>"
	SubjectDecision = "quotaguard.events.decision"
)

// Decision values carried by AccessDecisionEvent.
const (
	DecisionAllow  = "allow"
	DecisionDeny   = "deny"
	DecisionBypass = "bypass"
	DecisionError  = "error"
)

// AccessDecisionEvent is published whenever a gated request is admitted or
// turned away. UserID is uuid.Nil for decisions made before the caller was
// identified, such as per-IP rate limiting.
type AccessDecisionEvent struct {
	ID        uuid.UUID `json:"id"`
	Route     string    `json:"route"`
	UserID    uuid.UUID `json:"user_id"`
	IP        string    `json:"ip,omitempty"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
	Day       string    `json:"day,omitempty"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
