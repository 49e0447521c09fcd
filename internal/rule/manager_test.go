package rule

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, seed ...Rule) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(seed...)
	ids := NewFixedGenerator("id-1", "id-2", "id-3", "id-4", "id-5")
	return NewManager(store, ids), store
}

func ruleIDs(rules []Rule) []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}

func TestManager_AddAssignsIDAndSorts(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	first, err := m.Add(ctx, Rule{ID: "ignored", Keyword: "hello", ReplyMessage: "hi", Priority: 1})
	require.NoError(t, err)
	assert.Equal(t, "id-1", first.ID)

	_, err = m.Add(ctx, Rule{Keyword: "hel", ReplyMessage: "hey", Priority: 0})
	require.NoError(t, err)

	rules, err := m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"id-2", "id-1"}, ruleIDs(rules))
}

func TestManager_AddRejectsInvalidPattern(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	_, err := m.Add(ctx, Rule{Keyword: "x(", IsRegex: true, ReplyMessage: "never"})
	require.Error(t, err)
	assert.True(t, IsInvalidPattern(err))

	rules, _ := store.List(ctx)
	assert.Empty(t, rules, "rejected rule must not be saved")
}

func TestManager_ImportAllOrNothing(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	_, err := m.Import(ctx, []Rule{
		{Keyword: "ok", ReplyMessage: "fine"},
		{Keyword: "", ReplyMessage: "bad"},
	})
	require.Error(t, err)

	rules, _ := store.List(ctx)
	assert.Empty(t, rules)

	added, err := m.Import(ctx, []Rule{
		{Keyword: "b", Priority: 2},
		{Keyword: "a", Priority: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id-1", "id-2"}, ruleIDs(added))

	rules, _ = store.List(ctx)
	assert.Equal(t, []string{"id-2", "id-1"}, ruleIDs(rules))
}

func TestManager_UpdateKeepsID(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t,
		Rule{ID: "a", Keyword: "one", Priority: 0},
		Rule{ID: "b", Keyword: "two", Priority: 1},
	)

	err := m.Update(ctx, Rule{ID: "a", Keyword: "uno", ReplyMessage: "1", Priority: 5, DelaySeconds: 3})
	require.NoError(t, err)

	rules, err := m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ruleIDs(rules))

	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "uno", got.Keyword)
	assert.Equal(t, 3, got.DelaySeconds)
}

func TestManager_UpdateValidation(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, Rule{ID: "a", Keyword: "one"})

	err := m.Update(ctx, Rule{ID: "a", Keyword: "[", IsRegex: true})
	assert.True(t, IsInvalidPattern(err))

	err = m.Update(ctx, Rule{ID: "missing", Keyword: "x"})
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestManager_Delete(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t,
		Rule{ID: "a", Keyword: "one", Priority: 3},
		Rule{ID: "b", Keyword: "two", Priority: 1},
		Rule{ID: "c", Keyword: "three", Priority: 2},
	)

	require.NoError(t, m.Delete(ctx, "b"))

	rules, err := m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ruleIDs(rules), "delete preserves stored order")

	assert.ErrorIs(t, m.Delete(ctx, "b"), ErrRuleNotFound)
}

func TestManager_RaiseAndLower(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t,
		Rule{ID: "a", Keyword: "one", Priority: 0},
		Rule{ID: "b", Keyword: "two", Priority: 1},
	)

	require.NoError(t, m.Raise(ctx, "a"))
	a, _ := m.Get(ctx, "a")
	assert.Equal(t, 0, a.Priority, "priority floor is 0")

	require.NoError(t, m.Raise(ctx, "b"))
	b, _ := m.Get(ctx, "b")
	assert.Equal(t, 0, b.Priority)

	require.NoError(t, m.Lower(ctx, "a"))
	rules, _ := m.List(ctx)
	assert.Equal(t, []string{"b", "a"}, ruleIDs(rules))

	assert.ErrorIs(t, m.Lower(ctx, "zzz"), ErrRuleNotFound)
}

func TestManager_StoreErrors(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, Rule{ID: "a", Keyword: "one"})
	boom := errors.New("disk on fire")
	store.SetError(boom)

	_, err := m.List(ctx)
	assert.ErrorIs(t, err, boom)

	_, err = m.Add(ctx, Rule{Keyword: "x"})
	assert.ErrorIs(t, err, boom)

	assert.ErrorIs(t, m.Delete(ctx, "a"), boom)
	assert.ErrorIs(t, m.Raise(ctx, "a"), boom)

	_, err = m.Seed(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestManager_SeedEmptyStore(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	added, err := m.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"id-1", "id-2"}, ruleIDs(added))

	rules, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "olá", rules[0].Keyword)
	assert.Equal(t, "teste", rules[1].Keyword)
	for _, r := range rules {
		assert.NoError(t, Validate(r))
	}

	added, err = m.Seed(ctx)
	require.NoError(t, err)
	assert.Nil(t, added, "second seed is a no-op")
	rules, err = m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 2)
}

func TestManager_SeedKeepsExistingRules(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, Rule{ID: "mine", Keyword: "hi"})

	added, err := m.Seed(ctx)
	require.NoError(t, err)
	assert.Nil(t, added)

	rules, err := m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"mine"}, ruleIDs(rules))
}

func TestManager_ConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewManager(store, nil)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := m.Add(ctx, Rule{Keyword: "k", Priority: i % 3})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rules, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, n, "no update may be lost")
}
