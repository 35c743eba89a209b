package probe

import (
	"fmt"
	"time"
)

// Reasons a wait gave up.
const (
	ReasonMaxAttempts = "max attempts exceeded"
	ReasonDeadline    = "deadline exceeded"
)

// TimeoutError is returned when the target stayed unreachable until the
// attempt limit or the deadline was exhausted.
type TimeoutError struct {
	Target   string
	Attempts int
	Elapsed  time.Duration
	Reason   string
	LastErr  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("probe: %s not reachable after %d attempts in %s (%s): %v",
		e.Target, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Reason, e.LastErr)
}

// Unwrap returns the error of the last connection attempt.
func (e *TimeoutError) Unwrap() error {
	return e.LastErr
}
