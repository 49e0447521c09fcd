package rule

import (
	"context"
	"fmt"
	"sync"
)

// Manager is the rule-authoring boundary. It owns write-time validation and
// ID assignment; the engine only ever reads through Store.
//
// Writes are serialized by an internal mutex so that concurrent edits do not
// lose updates through the read-modify-write cycle on Store.
type Manager struct {
	store Store
	ids   IDGenerator
	mu    sync.Mutex
}

// NewManager creates a Manager over the given store.
// If ids is nil, UUIDv7Generator is used.
func NewManager(store Store, ids IDGenerator) *Manager {
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	return &Manager{store: store, ids: ids}
}

// List returns all rules in stored order.
func (m *Manager) List(ctx context.Context) ([]Rule, error) {
	rules, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

// Get returns the rule with the given ID.
func (m *Manager) Get(ctx context.Context, id string) (Rule, error) {
	rules, err := m.List(ctx)
	if err != nil {
		return Rule{}, err
	}
	idx := IndexOf(rules, id)
	if idx < 0 {
		return Rule{}, fmt.Errorf("get rule %s: %w", id, ErrRuleNotFound)
	}
	return rules[idx], nil
}

// Add validates r, assigns a fresh ID and stores it. Any ID on r is ignored.
// The collection is re-sorted by priority after insertion.
func (m *Manager) Add(ctx context.Context, r Rule) (Rule, error) {
	added, err := m.Import(ctx, []Rule{r})
	if err != nil {
		return Rule{}, err
	}
	return added[0], nil
}

// Import adds several rules at once. Either all rules are valid and stored,
// or none are.
func (m *Manager) Import(ctx context.Context, rs []Rule) ([]Rule, error) {
	for _, r := range rs {
		if err := Validate(r); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rules, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("add rule: %w", err)
	}

	added := make([]Rule, len(rs))
	for i, r := range rs {
		r.ID = m.ids.Generate()
		added[i] = r
	}
	rules = append(rules, added...)

	if err := m.store.Save(ctx, SortByPriority(rules)); err != nil {
		return nil, fmt.Errorf("add rule: %w", err)
	}
	return added, nil
}

// Seed stores DefaultRules if the store holds no rules. It returns the rules
// added, or nil when the store was not empty.
func (m *Manager) Seed(ctx context.Context) ([]Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rules, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed rules: %w", err)
	}
	if len(rules) > 0 {
		return nil, nil
	}

	added := DefaultRules()
	for i := range added {
		added[i].ID = m.ids.Generate()
	}
	if err := m.store.Save(ctx, SortByPriority(added)); err != nil {
		return nil, fmt.Errorf("seed rules: %w", err)
	}
	return added, nil
}

// Update replaces every mutable field of the rule with r.ID.
func (m *Manager) Update(ctx context.Context, r Rule) error {
	if err := Validate(r); err != nil {
		return err
	}
	return m.modify(ctx, r.ID, func(*Rule) Rule { return r })
}

// Delete removes the rule with the given ID. Order of the rest is preserved.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rules, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	idx := IndexOf(rules, id)
	if idx < 0 {
		return fmt.Errorf("delete rule %s: %w", id, ErrRuleNotFound)
	}
	rules = append(rules[:idx], rules[idx+1:]...)

	if err := m.store.Save(ctx, rules); err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	return nil
}

// Raise moves a rule one step earlier in evaluation (priority-1).
// Priority never goes below 0.
func (m *Manager) Raise(ctx context.Context, id string) error {
	return m.modify(ctx, id, func(r *Rule) Rule {
		if r.Priority > 0 {
			r.Priority--
		}
		return *r
	})
}

// Lower moves a rule one step later in evaluation (priority+1).
func (m *Manager) Lower(ctx context.Context, id string) error {
	return m.modify(ctx, id, func(r *Rule) Rule {
		r.Priority++
		return *r
	})
}

// modify applies fn to the stored rule with id, keeps the ID and re-sorts.
func (m *Manager) modify(ctx context.Context, id string, fn func(*Rule) Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rules, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("update rule %s: %w", id, err)
	}
	idx := IndexOf(rules, id)
	if idx < 0 {
		return fmt.Errorf("update rule %s: %w", id, ErrRuleNotFound)
	}

	current := rules[idx]
	updated := fn(&current)
	updated.ID = id
	rules[idx] = updated

	if err := m.store.Save(ctx, SortByPriority(rules)); err != nil {
		return fmt.Errorf("update rule %s: %w", id, err)
	}
	return nil
}
