package lifecycle

import "fmt"

// ConflictError is returned by CreateTest when a pending test already uses the id.
type ConflictError struct {
	TestID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("test %q is already pending", e.TestID)
}

// NotFoundError is returned when no test exists for the id.
type NotFoundError struct {
	TestID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("test %q not found", e.TestID)
}

// TimeoutError ends a wait that did not observe a completion. Reason is the
// error stored on the row, so callers can tell a silent remote from one that
// reported a failure.
type TimeoutError struct {
	TestID string
	Reason string
	// Expired is set when the wait's own deadline performed the transition.
	Expired bool
}

func (e *TimeoutError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("test %q timed out", e.TestID)
	}
	return fmt.Sprintf("test %q timed out: %s", e.TestID, e.Reason)
}
