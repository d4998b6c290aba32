package oracle

import (
	"context"
	"errors"
	"math/rand/v2"
)

// Mock returns random verdicts without contacting a model. It stands in for
// the vision client when no API key is configured.
type Mock struct {
	// PassRate is the probability of a successful verdict.
	PassRate float64
	rand     func() float64
}

// NewMock returns a mock oracle that passes half the time.
func NewMock() *Mock {
	return &Mock{PassRate: 0.5, rand: rand.Float64}
}

func (m *Mock) Judge(ctx context.Context, image []byte, instructions string) (Judgment, error) {
	if err := ctx.Err(); err != nil {
		return Judgment{}, err
	}
	if len(image) == 0 {
		return Judgment{}, errors.New("mock judge: image required")
	}
	draw := rand.Float64
	if m.rand != nil {
		draw = m.rand
	}
	if draw() < m.PassRate {
		return Judgment{
			Success:    true,
			Reasoning:  "Mock verification passed: the image appears to satisfy the instructions.",
			Confidence: 0.85,
		}, nil
	}
	return Judgment{
		Success:    false,
		Reasoning:  "Mock verification failed: the image does not clearly show the requested evidence.",
		Confidence: 0.4,
	}, nil
}

var _ Oracle = (*Mock)(nil)
