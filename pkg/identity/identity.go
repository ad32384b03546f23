// Package identity decides which enrolled identity, if any, a face
// embedding belongs to.
//
// Matching is a one-shot nearest-neighbour decision: the probe is compared
// with every enrolled encoding by Euclidean distance, the closest one wins,
// and it is accepted only when its distance is strictly below the
// threshold. The capture side (camera, face detection, embedding
// extraction) lives outside this package and feeds Recognize through a
// channel.
package identity

import (
	"errors"
	"fmt"
	"math"
)

const (
	// DefaultThreshold is the largest distance, exclusive, that still counts
	// as the same face for 128-dimensional face embeddings.
	DefaultThreshold = 0.6

	// DefaultDimension is the embedding length produced by the capture side.
	DefaultDimension = 128
)

var (
	ErrNoMatch           = errors.New("identity: no enrolled identity matches")
	ErrDimensionMismatch = errors.New("identity: embedding dimension mismatch")
	ErrInvalidEmbedding  = errors.New("identity: invalid embedding")
	ErrInvalidThreshold  = errors.New("identity: threshold must be positive")
)

// Embedding is a fixed-length face feature vector.
type Embedding []float64

// Validate rejects empty vectors and non-finite components.
func (e Embedding) Validate() error {
	if len(e) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidEmbedding)
	}
	for i, v := range e {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: component %d is not finite", ErrInvalidEmbedding, i)
		}
	}
	return nil
}

// Enrollment pairs an identity id with its registered encoding.
type Enrollment struct {
	ID       int64
	Encoding Embedding
}

// Result is the outcome of a match. When Matched is false, ID is zero and
// Distance holds the best rejected distance, or +Inf if nothing was compared.
type Result struct {
	ID       int64
	Distance float64
	Matched  bool
}

// Matcher holds the tunable decision parameters.
type Matcher struct {
	Threshold float64
	Dimension int // 0 accepts any length, as long as probe and enrollments agree
}

// NewMatcher returns a Matcher after checking its parameters.
func NewMatcher(threshold float64, dimension int) (*Matcher, error) {
	if threshold <= 0 || math.IsNaN(threshold) {
		return nil, ErrInvalidThreshold
	}
	if dimension < 0 {
		return nil, fmt.Errorf("%w: negative dimension %d", ErrInvalidEmbedding, dimension)
	}
	return &Matcher{Threshold: threshold, Dimension: dimension}, nil
}

// DefaultMatcher uses DefaultThreshold and DefaultDimension.
func DefaultMatcher() *Matcher {
	return &Matcher{Threshold: DefaultThreshold, Dimension: DefaultDimension}
}

// Distance returns the Euclidean distance between two vectors of equal length.
func Distance(a, b Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// CheckDimension validates an embedding against the configured length.
func (m *Matcher) CheckDimension(e Embedding) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if m.Dimension > 0 && len(e) != m.Dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(e), m.Dimension)
	}
	return nil
}

// Match picks the closest enrollment to probe. An empty enrolled set is a
// plain no-match. Ties keep the earliest enrollment. The result is
// Matched only when the minimum distance is below the threshold.
func (m *Matcher) Match(probe Embedding, enrolled []Enrollment) (Result, error) {
	if err := m.CheckDimension(probe); err != nil {
		return Result{}, err
	}
	if len(enrolled) == 0 {
		return Result{Distance: math.Inf(1)}, nil
	}

	best := -1
	bestDist := math.Inf(1)
	for i, e := range enrolled {
		d, err := Distance(probe, e.Encoding)
		if err != nil {
			return Result{}, fmt.Errorf("identity %d: %w", e.ID, err)
		}
		// Strict comparison keeps the first of equal candidates.
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}

	if bestDist < m.Threshold {
		return Result{ID: enrolled[best].ID, Distance: bestDist, Matched: true}, nil
	}
	return Result{Distance: bestDist}, nil
}
