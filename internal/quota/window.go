package quota

import (
	"log/slog"
	"strings"
	"time"
)

// Window describes the quota day containing a given instant.
type Window struct {
	Day      Day
	Start    time.Time
	End      time.Time
	ResetsAt time.Time
	NowLocal time.Time
	// RetryAfter is the number of whole seconds until ResetsAt, never negative.
	RetryAfter int
}

// ResolveTimezone loads the named location. Empty names resolve to UTC.
// Unknown names also resolve to UTC, with fellBack set and a warning logged.
func ResolveTimezone(name string) (loc *time.Location, resolved string, fellBack bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, "UTC", false
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("quota: invalid timezone, falling back to UTC", "timezone", name, "error", err)
		return time.UTC, "UTC", true
	}
	return loc, name, false
}

// ComputeWindow returns the quota window containing now as seen in loc.
// A zero now means the process clock; a nil loc means UTC.
func ComputeWindow(loc *time.Location, now time.Time) Window {
	if loc == nil {
		loc = time.UTC
	}
	if now.IsZero() {
		now = time.Now()
	}

	local := now.In(loc)
	y, m, d := local.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	resetsAt := time.Date(y, m, d+1, 0, 0, 0, 0, loc)

	retryAfter := int(resetsAt.Sub(local) / time.Second)
	if retryAfter < 0 {
		retryAfter = 0
	}

	return Window{
		Day:        DayOf(local),
		Start:      start,
		End:        resetsAt.Add(-time.Nanosecond),
		ResetsAt:   resetsAt,
		NowLocal:   local,
		RetryAfter: retryAfter,
	}
}
