package identity

import (
	"context"
	"fmt"
	"time"
)

// Sample is one processed capture frame with the embeddings of every face
// found in it, possibly none.
type Sample struct {
	Frame      int
	At         time.Time
	Embeddings []Embedding
}

// RecognizeOption tunes Recognize.
type RecognizeOption func(*recognizeConfig)

type recognizeConfig struct {
	stride  int
	onFrame func(Sample, []Result)
}

// WithFrameStride evaluates only every n-th sample. Skipped samples are
// still drained from the channel.
func WithFrameStride(n int) RecognizeOption {
	return func(c *recognizeConfig) {
		if n > 0 {
			c.stride = n
		}
	}
}

// WithFrameHook is called after each evaluated sample, for progress display.
func WithFrameHook(fn func(Sample, []Result)) RecognizeOption {
	return func(c *recognizeConfig) { c.onFrame = fn }
}

// Recognize consumes samples until one of its embeddings matches an
// enrollment. It returns ErrNoMatch if the channel closes first and the
// context error if ctx is cancelled. It never touches the vault.
func (m *Matcher) Recognize(ctx context.Context, samples <-chan Sample, enrolled []Enrollment, opts ...RecognizeOption) (Result, error) {
	cfg := recognizeConfig{stride: 1}
	for _, opt := range opts {
		opt(&cfg)
	}

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return Result{}, fmt.Errorf("identity: recognition cancelled: %w", ctx.Err())
		case s, ok := <-samples:
			if !ok {
				return Result{}, ErrNoMatch
			}
			seen++
			if (seen-1)%cfg.stride != 0 {
				continue
			}

			results := make([]Result, 0, len(s.Embeddings))
			hit := -1
			for _, probe := range s.Embeddings {
				r, err := m.Match(probe, enrolled)
				if err != nil {
					return Result{}, fmt.Errorf("identity: frame %d: %w", s.Frame, err)
				}
				results = append(results, r)
				if r.Matched && hit < 0 {
					hit = len(results) - 1
				}
			}
			if cfg.onFrame != nil {
				cfg.onFrame(s, results)
			}
			if hit >= 0 {
				return results[hit], nil
			}
		}
	}
}
