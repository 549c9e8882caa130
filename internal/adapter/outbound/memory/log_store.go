package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ostiary-ai/ostiary/internal/domain/actionlog"
)

// LogStore implements actionlog.Store with an in-memory map.
// The per-store mutex gives the same read-modify-write atomicity per row
// that the sqlite adapter gets from transactions.
type LogStore struct {
	mu   sync.RWMutex
	logs map[string]*actionlog.ActionLog
}

// NewLogStore creates an empty in-memory action log store.
func NewLogStore() *LogStore {
	return &LogStore{
		logs: make(map[string]*actionlog.ActionLog),
	}
}

// Create inserts a new action log.
func (s *LogStore) Create(ctx context.Context, log *actionlog.ActionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyLog(log)
	s.logs[cp.ID] = cp
	return nil
}

// ByID returns a log by ID, or actionlog.ErrNotFound.
func (s *LogStore) ByID(ctx context.Context, id string) (*actionlog.ActionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.logs[id]
	if !ok {
		return nil, actionlog.ErrNotFound
	}
	return copyLog(log), nil
}

// Transition applies the mutation while the row is in an expected state.
func (s *LogStore) Transition(ctx context.Context, id string, from []actionlog.Status, apply func(*actionlog.ActionLog)) (*actionlog.ActionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.logs[id]
	if !ok {
		return nil, actionlog.ErrNotFound
	}
	if len(from) > 0 && !statusIn(log.Status, from) {
		return nil, fmt.Errorf("action %s is %s, expected one of %v: %w",
			id, log.Status, from, actionlog.ErrInvalidTransition)
	}

	updated := copyLog(log)
	apply(updated)
	s.logs[id] = updated
	return copyLog(updated), nil
}

// List returns logs matching the filter, oldest first.
func (s *LogStore) List(ctx context.Context, f actionlog.Filter) ([]actionlog.ActionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []actionlog.ActionLog
	for _, log := range s.logs {
		if matches(log, f) {
			result = append(result, *copyLog(log))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

// Count returns the number of logs matching the filter.
func (s *LogStore) Count(ctx context.Context, f actionlog.Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, log := range s.logs {
		if matches(log, f) {
			n++
		}
	}
	return n, nil
}

// Stats aggregates the user's logs created at or after since.
func (s *LogStore) Stats(ctx context.Context, userID string, since time.Time) (*actionlog.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &actionlog.Stats{
		ByStatus: make(map[actionlog.Status]int64),
		ByType:   make(map[string]int64),
	}
	for _, log := range s.logs {
		if log.UserID != userID {
			continue
		}
		if !since.IsZero() && log.CreatedAt.Before(since) {
			continue
		}
		stats.Total++
		stats.ByStatus[log.Status]++
		stats.ByType[log.ActionTypeName]++
	}
	return stats, nil
}

func matches(log *actionlog.ActionLog, f actionlog.Filter) bool {
	if f.UserID != "" && log.UserID != f.UserID {
		return false
	}
	if len(f.Statuses) > 0 && !statusIn(log.Status, f.Statuses) {
		return false
	}
	if !f.Since.IsZero() && log.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

func statusIn(s actionlog.Status, set []actionlog.Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

// copyLog deep-copies a log to prevent external mutation.
func copyLog(log *actionlog.ActionLog) *actionlog.ActionLog {
	cp := *log
	if log.Payload != nil {
		cp.Payload = make(map[string]any, len(log.Payload))
		for k, v := range log.Payload {
			cp.Payload[k] = v
		}
	}
	if log.Metadata.ConfidenceFactors != nil {
		cp.Metadata.ConfidenceFactors = make(map[string]float64, len(log.Metadata.ConfidenceFactors))
		for k, v := range log.Metadata.ConfidenceFactors {
			cp.Metadata.ConfidenceFactors[k] = v
		}
	}
	if log.ConfidenceScore != nil {
		score := *log.ConfidenceScore
		cp.ConfidenceScore = &score
	}
	cp.ApprovedAt = copyTime(log.ApprovedAt)
	cp.RejectedAt = copyTime(log.RejectedAt)
	cp.ExecutedAt = copyTime(log.ExecutedAt)
	cp.Metadata.ReversedAt = copyTime(log.Metadata.ReversedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// Compile-time interface verification.
var _ actionlog.Store = (*LogStore)(nil)
