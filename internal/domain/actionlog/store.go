package actionlog

import (
	"context"
	"time"
)

// Filter narrows action log queries. Zero values mean "no filter".
type Filter struct {
	// UserID restricts results to one user's logs.
	UserID string
	// Statuses restricts results to the given statuses.
	Statuses []Status
	// Since restricts results to logs created at or after this time.
	Since time.Time
	// Limit caps the number of returned rows. 0 means no cap.
	Limit int
}

// Stats aggregates a user's action history.
type Stats struct {
	// Total is the number of logs in range.
	Total int64 `json:"total"`
	// ByStatus maps each status to its count.
	ByStatus map[Status]int64 `json:"by_status"`
	// ByType maps action type names to counts.
	ByType map[string]int64 `json:"by_type"`
}

// Store persists action logs. Rows are created once and then mutated only
// through Transition, which enforces an optimistic status guard: the
// update applies only while the row is still in one of the expected
// source states, so of two racing transitions exactly one wins and the
// loser gets ErrInvalidTransition.
type Store interface {
	// Create inserts a new action log.
	Create(ctx context.Context, log *ActionLog) error
	// ByID returns a log by ID, or ErrNotFound.
	ByID(ctx context.Context, id string) (*ActionLog, error)
	// Transition atomically applies the mutation to the log identified by
	// id, but only while its status is one of from. An empty from slice
	// skips the guard (used for status-independent updates such as
	// feedback). Returns the updated log, or ErrNotFound, or
	// ErrInvalidTransition when the row is no longer in an expected state.
	Transition(ctx context.Context, id string, from []Status, apply func(*ActionLog)) (*ActionLog, error)
	// List returns logs matching the filter, ordered by CreatedAt
	// ascending (pending work is a backlog, oldest first).
	List(ctx context.Context, f Filter) ([]ActionLog, error)
	// Count returns the number of logs matching the filter.
	Count(ctx context.Context, f Filter) (int, error)
	// Stats aggregates the user's logs created at or after since.
	// A zero since means all time.
	Stats(ctx context.Context, userID string, since time.Time) (*Stats, error)
}
