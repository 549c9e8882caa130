package actionlog

import "errors"

// Sentinel errors for action log operations.
var (
	// ErrNotFound is returned when no action log exists for an ID.
	ErrNotFound = errors.New("action log not found")
	// ErrInvalidTransition is returned when an operation is requested on
	// a log that is not in the required source state. Always surfaced,
	// never silently ignored, so callers cannot double-apply an action.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrIrreversible is returned when reversal is attempted on an action
	// whose type is not marked reversible. Distinct from
	// ErrInvalidTransition so callers can explain why reversal is
	// unavailable.
	ErrIrreversible = errors.New("action type is not reversible")
	// ErrExecutionFailed wraps an executor error captured into the failed
	// state. The engine never retries; retry policy belongs to the caller.
	ErrExecutionFailed = errors.New("action execution failed")
)
