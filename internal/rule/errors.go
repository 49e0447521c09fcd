package rule

import (
	"errors"
	"fmt"
)

// ErrRuleNotFound is returned by Manager operations addressing an unknown ID.
var ErrRuleNotFound = errors.New("rule not found")

// ValidationErrorCode categorizes write-time rule rejections.
type ValidationErrorCode string

const (
	// ErrCodeInvalidPattern indicates a regex rule whose keyword does not compile.
	ErrCodeInvalidPattern ValidationErrorCode = "INVALID_PATTERN"

	// ErrCodeEmptyKeyword indicates a blank keyword.
	ErrCodeEmptyKeyword ValidationErrorCode = "EMPTY_KEYWORD"

	// ErrCodeNegativeDelay indicates delay_seconds < 0.
	ErrCodeNegativeDelay ValidationErrorCode = "NEGATIVE_DELAY"

	// ErrCodeDelayTooLarge indicates delay_seconds > MaxDelaySeconds.
	ErrCodeDelayTooLarge ValidationErrorCode = "DELAY_TOO_LARGE"
)

// ValidationError is returned when a rule is rejected at the authoring boundary.
type ValidationError struct {
	Code    ValidationErrorCode
	Message string
	RuleID  string
	Keyword string

	// Err is the underlying cause (regexp syntax error for INVALID_PATTERN).
	Err error
}

// NewValidationError creates a ValidationError for the given rule.
func NewValidationError(code ValidationErrorCode, r Rule, message string) *ValidationError {
	return &ValidationError{
		Code:    code,
		Message: message,
		RuleID:  r.ID,
		Keyword: r.Keyword,
	}
}

func (e *ValidationError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("%s: %s (rule=%s, keyword=%q)", e.Code, e.Message, e.RuleID, e.Keyword)
	}
	return fmt.Sprintf("%s: %s (keyword=%q)", e.Code, e.Message, e.Keyword)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsInvalidPattern reports whether err is an INVALID_PATTERN validation error.
func IsInvalidPattern(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code == ErrCodeInvalidPattern
	}
	return false
}

// IsValidationError reports whether err is any ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
