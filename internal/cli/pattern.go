// Package cli provides shared utilities for CLI commands.
package cli

import (
	"fmt"
	"path"
	"strings"
)

// Matcher decides whether a record's searchable text matches a --filter
// value. Matching is case-insensitive. A value containing glob characters
// (*?[) must match one field in full, with path.Match rules; any other
// value matches as a substring of any field.
type Matcher struct {
	pattern string
	glob    bool
}

// NewMatcher validates pattern and returns a Matcher. An empty pattern
// matches everything.
func NewMatcher(pattern string) (*Matcher, error) {
	pattern = strings.ToLower(pattern)
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid filter '%s': %w", pattern, err)
	}
	return &Matcher{
		pattern: pattern,
		glob:    strings.ContainsAny(pattern, "*?["),
	}, nil
}

// Match reports whether any of fields matches.
func (m *Matcher) Match(fields ...string) bool {
	if m.pattern == "" {
		return true
	}
	for _, f := range fields {
		f = strings.ToLower(f)
		if m.glob {
			// The pattern was validated in NewMatcher.
			if ok, _ := path.Match(m.pattern, f); ok {
				return true
			}
			continue
		}
		if strings.Contains(f, m.pattern) {
			return true
		}
	}
	return false
}

// Filter returns the items whose fields match pattern, preserving order.
func Filter[T any](pattern string, items []T, fields func(T) []string) ([]T, error) {
	m, err := NewMatcher(pattern)
	if err != nil {
		return nil, err
	}
	if m.pattern == "" {
		return items, nil
	}

	var out []T
	for _, it := range items {
		if m.Match(fields(it)...) {
			out = append(out, it)
		}
	}
	return out, nil
}
