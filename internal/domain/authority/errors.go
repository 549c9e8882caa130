package authority

import "errors"

// Sentinel errors for authority operations.
var (
	// ErrUnknownActionType is returned when a requested action type name
	// is not in the catalog. Types are never auto-created.
	ErrUnknownActionType = errors.New("unknown action type")
)
