package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents a failure observed while handling a message.
//
// Runtime errors never escape OnMessage. They are logged, counted and
// published on Engine.Errors() for the surrounding UI to render.
//
// Runtime errors include:
//   - Dispatch failures: the Gateway refused or the capability expired
//   - Config unavailable: the rule store could not be read
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// SourceID identifies the affected message instance.
	SourceID string

	// RuleID identifies the matched rule (dispatch errors only).
	RuleID string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeDispatchFailed indicates the reply could not be delivered.
	ErrCodeDispatchFailed RuntimeErrorCode = "DISPATCH_FAILED"

	// ErrCodeConfigUnavailable indicates rules or gates could not be read.
	ErrCodeConfigUnavailable RuntimeErrorCode = "CONFIG_UNAVAILABLE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.SourceID != "" && e.RuleID != "" {
		msg = fmt.Sprintf("%s (source=%s, rule=%s)", msg, e.SourceID, e.RuleID)
	} else if e.SourceID != "" {
		msg = fmt.Sprintf("%s (source=%s)", msg, e.SourceID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsDispatchError returns true if err is a dispatch failure.
// Uses errors.As to handle wrapped errors.
func IsDispatchError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeDispatchFailed
	}
	return false
}

// IsConfigUnavailable returns true if err reports unreadable rules or gates.
func IsConfigUnavailable(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeConfigUnavailable
	}
	return false
}

// NewDispatchError creates a RuntimeError for a failed reply.
func NewDispatchError(sourceID, ruleID string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeDispatchFailed,
		Message:  "reply could not be delivered",
		SourceID: sourceID,
		RuleID:   ruleID,
		Err:      cause,
	}
}

// NewConfigUnavailableError creates a RuntimeError for an unreadable rule store.
func NewConfigUnavailableError(sourceID string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeConfigUnavailable,
		Message:  "rule store unavailable, treating as no rules",
		SourceID: sourceID,
		Err:      cause,
	}
}
