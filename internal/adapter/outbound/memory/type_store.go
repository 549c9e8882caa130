// Package memory provides in-memory implementations of the outbound
// store ports. Thread-safe; intended for development and testing.
package memory

import (
	"context"
	"sync"

	"github.com/ostiary-ai/ostiary/internal/domain/authority"
)

// TypeStore implements authority.TypeStore with in-memory maps.
type TypeStore struct {
	mu     sync.RWMutex
	byID   map[string]*authority.ActionType
	byName map[string]string // name -> ID
}

// NewTypeStore creates an empty in-memory type store.
func NewTypeStore() *TypeStore {
	return &TypeStore{
		byID:   make(map[string]*authority.ActionType),
		byName: make(map[string]string),
	}
}

// CreateType inserts a new action type.
func (s *TypeStore) CreateType(ctx context.Context, t *authority.ActionType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.byID[cp.ID] = &cp
	s.byName[cp.Name] = cp.ID
	return nil
}

// TypeByID returns a type by ID, or (nil, nil) when absent.
func (s *TypeStore) TypeByID(ctx context.Context, id string) (*authority.ActionType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

// TypeByName returns a type by its unique name, or (nil, nil) when absent.
func (s *TypeStore) TypeByName(ctx context.Context, name string) (*authority.ActionType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return nil, nil
	}
	cp := *s.byID[id]
	return &cp, nil
}

// AllTypes returns every catalog entry.
func (s *TypeStore) AllTypes(ctx context.Context) ([]authority.ActionType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]authority.ActionType, 0, len(s.byID))
	for _, t := range s.byID {
		result = append(result, *t)
	}
	return result, nil
}

// TypesByCategory returns all types in the given category.
func (s *TypeStore) TypesByCategory(ctx context.Context, category authority.Category) ([]authority.ActionType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []authority.ActionType
	for _, t := range s.byID {
		if t.Category == category {
			result = append(result, *t)
		}
	}
	return result, nil
}

// Compile-time interface verification.
var _ authority.TypeStore = (*TypeStore)(nil)
