package memory

import (
	"context"
	"sync"
)

// ReferenceStore serves reference rows seeded in-process.
type ReferenceStore struct {
	mu     sync.RWMutex
	values map[string][]string
}

// NewReferenceStore constructs an empty ReferenceStore.
func NewReferenceStore() *ReferenceStore {
	return &ReferenceStore{values: make(map[string][]string)}
}

// Add appends values under dataType.
func (s *ReferenceStore) Add(dataType string, values ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[dataType] = append(s.values[dataType], values...)
}

// ValuesByType returns the rows of dataType in insertion order.
func (s *ReferenceStore) ValuesByType(_ context.Context, dataType string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.values[dataType]...), nil
}
