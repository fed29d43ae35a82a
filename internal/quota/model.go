package quota

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const dayLayout = "2006-01-02"

// Day is a calendar date in the quota timezone. It is the bucketing key for
// daily limits.
type Day struct {
	t time.Time
}

// DayOf returns the calendar date t falls on in t's own location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("parsing day %q: %w", s, err)
	}
	return Day{t: t}, nil
}

// String formats the day as YYYY-MM-DD.
func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(dayLayout)
}

// Time returns midnight UTC of the day, suitable for DATE columns.
func (d Day) Time() time.Time { return d.t }

func (d Day) IsZero() bool { return d.t.IsZero() }

// AddDays returns the day n days later (or earlier when n is negative).
func (d Day) AddDays(n int) Day { return Day{t: d.t.AddDate(0, 0, n)} }

func (d Day) Before(o Day) bool { return d.t.Before(o.t) }

func (d Day) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Day) UnmarshalText(b []byte) error {
	parsed, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusReserved Status = "reserved"
	StatusConsumed Status = "consumed"
	StatusReleased Status = "released"
)

// Usage matches the daily_quota_usage table schema.
type Usage struct {
	UserID    uuid.UUID `json:"user_id"`
	Day       Day       `json:"day"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reservation matches the quota_reservation table schema.
type Reservation struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Day       Day       `json:"day"`
	Status    Status    `json:"status"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DenyReason tells the caller why a reservation was not granted.
type DenyReason string

const (
	// DenyActiveReservation means a prior attempt for the same user and day
	// is still in flight.
	DenyActiveReservation DenyReason = "active_reservation"
	// DenyDailyLimit means the user's daily quota is exhausted.
	DenyDailyLimit DenyReason = "daily_limit"
	// DenyGlobalLimit means the day's total across all users is exhausted.
	DenyGlobalLimit DenyReason = "global_limit"
)

// ReserveResult is returned by Manager.Reserve.
type ReserveResult struct {
	Allowed        bool       `json:"allowed"`
	Reason         DenyReason `json:"reason,omitempty"`
	Consumed       int        `json:"consumed"`
	ActiveReserved int        `json:"active_reserved"`
	ReservationID  uuid.UUID  `json:"reservation_id,omitempty"`
}

// FinalizeResult is returned by Manager.Finalize.
type FinalizeResult struct {
	Finalized bool `json:"finalized"`
	Count     int  `json:"count"`
}

// UsageStatus is the API response showing current daily usage for a user.
type UsageStatus struct {
	Day        Day       `json:"day"`
	Timezone   string    `json:"timezone"`
	Used       int       `json:"used"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetsAt   time.Time `json:"resets_at"`
	RetryAfter int       `json:"retry_after_seconds"`
}
