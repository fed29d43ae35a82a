// Package storage holds the vocabulary shared by the quota and rate-limit
// store implementations.
package storage

// Outcome reports how a storage step that may race with a concurrent writer
// ended. Callers decide whether to retry based on it rather than inspecting
// driver error types.
type Outcome int

const (
	// OK means the step completed.
	OK Outcome = iota
	// Conflict means a unique constraint rejected the write because a
	// concurrent transaction created the same key first.
	Conflict
	// Fatal means the store failed in a way a retry will not fix.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Conflict:
		return "conflict"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps an error to an outcome using isConflict to recognize the
// driver's unique-violation error.
func Classify(err error, isConflict func(error) bool) Outcome {
	switch {
	case err == nil:
		return OK
	case isConflict(err):
		return Conflict
	default:
		return Fatal
	}
}
