package errors

import "fmt"

// RangeError reports the failure of one dataset range during a distributed
// run. It matches ErrRangeFailed.
type RangeError struct {
	Start, End int
	Worker     string
	Cause      error
}

func (e *RangeError) Error() string {
	if e.Worker != "" {
		return fmt.Sprintf("range [%d, %d) failed on worker %s: %v", e.Start, e.End, e.Worker, e.Cause)
	}
	return fmt.Sprintf("range [%d, %d) failed: %v", e.Start, e.End, e.Cause)
}

func (e *RangeError) Unwrap() error {
	return e.Cause
}

// Is matches the ErrRangeFailed sentinel.
func (e *RangeError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && t == ErrRangeFailed
}
