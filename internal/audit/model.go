package audit

import (
	"time"

	"github.com/google/uuid"
)

// Entry matches the quota_audit_log table schema.
type Entry struct {
	ID         uuid.UUID  `json:"id"`
	EventID    uuid.UUID  `json:"event_id"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	IP         string     `json:"ip,omitempty"`
	Route      string     `json:"route"`
	Decision   string     `json:"decision"`
	Reason     string     `json:"reason,omitempty"`
	Day        string     `json:"day,omitempty"`
	Used       int        `json:"used"`
	Limit      int        `json:"limit"`
	RequestID  string     `json:"request_id,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ListParams holds pagination and filtering parameters for audit queries.
type ListParams struct {
	Decision string
	Route    string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// DefaultListParams returns sensible defaults.
func DefaultListParams() ListParams {
	return ListParams{
		Page:     1,
		PageSize: 20,
	}
}
