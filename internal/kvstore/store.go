// Package kvstore keeps the rule set in a NATS JetStream key-value bucket.
//
// The whole rule document lives under a single key, so a Save is one Put and
// every reader sees a complete document. A missing key reads as an empty
// rule set.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/roach88/autoreply/internal/rule"
)

// RulesKey is the key holding the rule document.
const RulesKey = "rules"

// DefaultTimeout bounds each bucket operation.
const DefaultTimeout = 5 * time.Second

// Bucket is the subset of jetstream.KeyValue used by Store.
type Bucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// Store reads and writes the rule document in a Bucket.
//
// Implements rule.Store.
type Store struct {
	bucket  Bucket
	key     string
	timeout time.Duration
	conn    *nats.Conn
}

var _ rule.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithKey overrides RulesKey.
func WithKey(key string) Option {
	return func(s *Store) {
		s.key = key
	}
}

// WithTimeout sets the per-operation timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

// New wraps an existing bucket.
func New(bucket Bucket, opts ...Option) *Store {
	s := &Store{bucket: bucket, key: RulesKey, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the NATS server at url and binds to bucket, creating the
// bucket if it does not exist. Close releases the connection.
func Open(ctx context.Context, url, bucket string, opts ...Option) (*Store, error) {
	nc, err := nats.Connect(url, nats.Name("autoreply-rules"))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "auto-reply rules",
		History:     5,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bind kv bucket %s: %w", bucket, err)
	}

	s := New(kv, opts...)
	s.conn = nc
	return s, nil
}

// Close drains the connection opened by Open. It is a no-op for stores
// created with New.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

// List fetches and decodes the rule document.
func (s *Store) List(ctx context.Context) ([]rule.Rule, error) {
	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	entry, err := s.bucket.Get(ctx, s.key)
	if err != nil {
		if IsKeyNotFound(err) {
			return []rule.Rule{}, nil
		}
		return nil, fmt.Errorf("kv get %s: %w", s.key, err)
	}
	if entry.Operation() != jetstream.KeyValuePut {
		// Deleted or purged key
		return []rule.Rule{}, nil
	}

	rules, err := rule.DecodeDocument(entry.Value())
	if err != nil {
		return nil, fmt.Errorf("kv get %s: %w", s.key, err)
	}
	return rules, nil
}

// Save replaces the rule document (last writer wins).
func (s *Store) Save(ctx context.Context, rules []rule.Rule) error {
	data, err := rule.EncodeDocument(rules)
	if err != nil {
		return fmt.Errorf("kv put %s: %w", s.key, err)
	}

	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	if _, err := s.bucket.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("kv put %s: %w", s.key, err)
	}
	return nil
}

func (s *Store) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return ctx, func() {}
}

// IsKeyNotFound reports whether err means the key does not exist.
func IsKeyNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return true
	}
	// Older servers only surface the API error text
	msg := err.Error()
	return strings.Contains(msg, "key not found") || strings.Contains(msg, "10037")
}
