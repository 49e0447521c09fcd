package rule

import (
	"cmp"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// Rule is a user-defined pattern-to-reply mapping.
type Rule struct {
	// ID is opaque and stable across edits.
	ID string `json:"id" yaml:"id"`

	// Keyword is the substring, or the pattern when IsRegex is set.
	Keyword string `json:"keyword" yaml:"keyword"`

	IsRegex bool `json:"is_regex" yaml:"is_regex"`

	// ReplyMessage is sent verbatim on match.
	ReplyMessage string `json:"reply_message" yaml:"reply_message"`

	// Priority orders evaluation: lower runs first. Not unique.
	Priority int `json:"priority" yaml:"priority"`

	// DelaySeconds postpones the reply. 0 means immediate.
	DelaySeconds int `json:"delay_seconds" yaml:"delay_seconds"`
}

// Store is the durable rule collection.
//
// List returns rules in stored order. Save replaces the whole collection.
// Implementations live in internal/store (SQLite), internal/filestore and
// internal/kvstore (NATS JetStream KV).
type Store interface {
	List(ctx context.Context) ([]Rule, error)
	Save(ctx context.Context, rules []Rule) error
}

// MaxDelaySeconds bounds DelaySeconds to one year.
const MaxDelaySeconds = 365 * 24 * 60 * 60

// Delay returns DelaySeconds as a duration, clamped to [0, MaxDelaySeconds].
func (r Rule) Delay() time.Duration {
	return time.Duration(min(max(r.DelaySeconds, 0), MaxDelaySeconds)) * time.Second
}

// CompilePattern compiles a regex keyword the way the matcher does:
// case-insensitively.
func CompilePattern(keyword string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + keyword)
}

// Validate checks the write-time invariants of a rule.
// Returns a *ValidationError or nil.
func Validate(r Rule) error {
	if strings.TrimSpace(r.Keyword) == "" {
		return NewValidationError(ErrCodeEmptyKeyword, r, "keyword must not be empty")
	}
	if r.DelaySeconds < 0 {
		return NewValidationError(ErrCodeNegativeDelay, r, "delay_seconds must be >= 0")
	}
	if r.DelaySeconds > MaxDelaySeconds {
		return NewValidationError(ErrCodeDelayTooLarge, r, fmt.Sprintf("delay_seconds must be <= %d", MaxDelaySeconds))
	}
	if r.IsRegex {
		if _, err := CompilePattern(r.Keyword); err != nil {
			ve := NewValidationError(ErrCodeInvalidPattern, r, err.Error())
			ve.Err = err
			return ve
		}
	}
	return nil
}

// SortByPriority returns a copy of rules sorted ascending by priority.
// The sort is stable: equal priorities keep their relative order.
func SortByPriority(rules []Rule) []Rule {
	sorted := slices.Clone(rules)
	slices.SortStableFunc(sorted, func(a, b Rule) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	return sorted
}

// IndexOf returns the position of the rule with the given ID, or -1.
func IndexOf(rules []Rule, id string) int {
	return slices.IndexFunc(rules, func(r Rule) bool { return r.ID == id })
}
