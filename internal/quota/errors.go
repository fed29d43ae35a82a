package quota

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable marks a fatal storage failure. The caller must fail
	// closed and must not assume any reservation was granted.
	ErrUnavailable = errors.New("quota subsystem unavailable")

	ErrInvalidArgument = errors.New("invalid quota argument")
)

// UnavailableError wraps the storage failure behind ErrUnavailable.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrUnavailable, e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

func unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Err: err}
}
