package kvstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autoreply/internal/rule"
)

// MockBucket implements Bucket for testing
type MockBucket struct {
	mock.Mock
}

func (m *MockBucket) Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error) {
	args := m.Called(ctx, key)
	if entry := args.Get(0); entry != nil {
		return entry.(jetstream.KeyValueEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBucket) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	args := m.Called(ctx, key, value)
	if rev := args.Get(0); rev != nil {
		return rev.(uint64), args.Error(1)
	}
	return 1, args.Error(1)
}

// MockKeyValueEntry implements jetstream.KeyValueEntry for testing
type MockKeyValueEntry struct {
	key       string
	value     []byte
	revision  uint64
	operation jetstream.KeyValueOp
}

func (m *MockKeyValueEntry) Key() string                     { return m.key }
func (m *MockKeyValueEntry) Value() []byte                   { return m.value }
func (m *MockKeyValueEntry) Revision() uint64                { return m.revision }
func (m *MockKeyValueEntry) Operation() jetstream.KeyValueOp { return m.operation }
func (m *MockKeyValueEntry) Created() time.Time              { return time.Now() }
func (m *MockKeyValueEntry) Delta() uint64                   { return 0 }
func (m *MockKeyValueEntry) Bucket() string                  { return "test-bucket" }

func putEntry(t *testing.T, rules []rule.Rule) *MockKeyValueEntry {
	t.Helper()
	data, err := rule.EncodeDocument(rules)
	require.NoError(t, err)
	return &MockKeyValueEntry{key: RulesKey, value: data, revision: 1, operation: jetstream.KeyValuePut}
}

func TestList_KeyNotFound(t *testing.T) {
	bucket := &MockBucket{}
	bucket.On("Get", mock.Anything, RulesKey).Return(nil, jetstream.ErrKeyNotFound)

	rules, err := New(bucket).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rules)
	bucket.AssertExpectations(t)
}

func TestList_DecodesDocument(t *testing.T) {
	want := []rule.Rule{{ID: "a", Keyword: "hello", ReplyMessage: "hi", Priority: 1}}
	bucket := &MockBucket{}
	bucket.On("Get", mock.Anything, RulesKey).Return(putEntry(t, want), nil)

	got, err := New(bucket).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestList_DeletedKeyIsEmpty(t *testing.T) {
	bucket := &MockBucket{}
	bucket.On("Get", mock.Anything, RulesKey).Return(
		&MockKeyValueEntry{key: RulesKey, operation: jetstream.KeyValueDelete}, nil)

	got, err := New(bucket).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestList_BucketError(t *testing.T) {
	bucket := &MockBucket{}
	bucket.On("Get", mock.Anything, RulesKey).Return(nil, errors.New("nats: timeout"))

	_, err := New(bucket).List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kv get rules")
}

func TestList_CorruptDocument(t *testing.T) {
	bucket := &MockBucket{}
	bucket.On("Get", mock.Anything, RulesKey).Return(
		&MockKeyValueEntry{key: RulesKey, value: []byte("{oops"), operation: jetstream.KeyValuePut}, nil)

	_, err := New(bucket).List(context.Background())
	assert.Error(t, err)
}

func TestSave_PutsDocument(t *testing.T) {
	rules := []rule.Rule{{ID: "a", Keyword: "k", DelaySeconds: 2}}
	want, err := rule.EncodeDocument(rules)
	require.NoError(t, err)

	bucket := &MockBucket{}
	bucket.On("Put", mock.Anything, "custom", want).Return(uint64(7), nil)

	require.NoError(t, New(bucket, WithKey("custom")).Save(context.Background(), rules))
	bucket.AssertExpectations(t)
}

func TestSave_BucketError(t *testing.T) {
	bucket := &MockBucket{}
	bucket.On("Put", mock.Anything, RulesKey, mock.Anything).Return(nil, errors.New("no responders"))

	err := New(bucket).Save(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no responders")
}

func TestTimeoutApplied(t *testing.T) {
	bucket := &MockBucket{}
	bucket.On("Get", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), RulesKey).Return(nil, jetstream.ErrKeyNotFound).Once()
	bucket.On("Get", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return !ok
	}), RulesKey).Return(nil, jetstream.ErrKeyNotFound).Once()

	_, err := New(bucket).List(context.Background())
	require.NoError(t, err)
	_, err = New(bucket, WithTimeout(0)).List(context.Background())
	require.NoError(t, err)
	bucket.AssertExpectations(t)
}

func TestIsKeyNotFound(t *testing.T) {
	assert.False(t, IsKeyNotFound(nil))
	assert.True(t, IsKeyNotFound(jetstream.ErrKeyNotFound))
	assert.True(t, IsKeyNotFound(errors.New("nats: key not found")))
	assert.True(t, IsKeyNotFound(errors.New("api error 10037")))
	assert.False(t, IsKeyNotFound(errors.New("timeout")))
}

func TestStore_WithManager(t *testing.T) {
	var stored []byte
	bucket := &MockBucket{}
	bucket.On("Get", mock.Anything, RulesKey).Return(nil, jetstream.ErrKeyNotFound).Once()
	bucket.On("Put", mock.Anything, RulesKey, mock.Anything).Run(func(args mock.Arguments) {
		stored = args.Get(2).([]byte)
	}).Return(uint64(1), nil).Once()

	m := rule.NewManager(New(bucket), rule.NewFixedGenerator("id-1"))
	_, err := m.Add(context.Background(), rule.Rule{Keyword: "hello"})
	require.NoError(t, err)

	rules, err := rule.DecodeDocument(stored)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "id-1", rules[0].ID)
	bucket.AssertExpectations(t)
}
