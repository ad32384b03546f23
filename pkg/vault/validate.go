package vault

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Field limits
const (
	MaxFieldLength     = 1024      // single-line fields
	MaxTextLength      = 64 * 1024 // note content and detail fields
	MinCardNumberLen   = 16
	MinSecurityCodeLen = 3
)

// ValidationError reports a rejected input field. It matches ErrValidation
// with errors.Is, and its cause when one is set.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func newValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("vault: invalid %s: %s", e.Field, e.Reason)
}

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// fieldCheck accumulates the first validation failure.
type fieldCheck struct {
	err *ValidationError
}

func (c *fieldCheck) required(field, value string) {
	if c.err == nil && strings.TrimSpace(value) == "" {
		c.err = newValidationError(field, "is required")
	}
}

func (c *fieldCheck) minLen(field, value string, n int) {
	if c.err == nil && utf8.RuneCountInString(strings.TrimSpace(value)) < n {
		c.err = newValidationError(field, fmt.Sprintf("must be at least %d characters", n))
	}
}

func (c *fieldCheck) maxLen(field, value string, n int) {
	if c.err == nil && len(value) > n {
		c.err = newValidationError(field, fmt.Sprintf("must be at most %d bytes", n))
	}
}

func (c *fieldCheck) valid(field, value string) {
	if c.err == nil && !utf8.ValidString(value) {
		c.err = newValidationError(field, "is not valid UTF-8")
	}
}

// line applies the limits for a single-line field.
func (c *fieldCheck) line(field, value string) {
	c.valid(field, value)
	c.maxLen(field, value, MaxFieldLength)
}

// text applies the limits for a multi-line field.
func (c *fieldCheck) text(field, value string) {
	c.valid(field, value)
	c.maxLen(field, value, MaxTextLength)
}

func (c *fieldCheck) result() error {
	if c.err == nil {
		return nil
	}
	return c.err
}
