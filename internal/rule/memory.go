package rule

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore is an in-process Store. It is used by tests and by the
// scenario harness; nothing is persisted.
type MemoryStore struct {
	mu    sync.RWMutex
	rules []Rule
	err   error
}

// NewMemoryStore creates a store seeded with rules.
func NewMemoryStore(rules ...Rule) *MemoryStore {
	return &MemoryStore{rules: slices.Clone(rules)}
}

// List returns a copy of the stored rules.
func (s *MemoryStore) List(_ context.Context) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	return slices.Clone(s.rules), nil
}

// Save replaces the stored rules with a copy of rules.
func (s *MemoryStore) Save(_ context.Context, rules []Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rules = slices.Clone(rules)
	return nil
}

// SetError makes every subsequent List and Save fail with err.
// Pass nil to restore normal operation.
func (s *MemoryStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

var _ Store = (*MemoryStore)(nil)
