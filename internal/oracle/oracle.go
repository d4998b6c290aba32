package oracle

import (
	"context"
	"errors"
	"fmt"
)

// Judgment is the oracle's verdict on one piece of evidence.
type Judgment struct {
	Success    bool    `json:"success"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
	Raw        string  `json:"-"`
}

// Oracle judges an image against natural-language verification instructions.
type Oracle interface {
	Judge(ctx context.Context, image []byte, instructions string) (Judgment, error)
}

// ParseError reports oracle output that could not be read as a verdict.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse verdict: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Failed converts an oracle error into a failed judgment with zero confidence.
func Failed(err error) Judgment {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return Judgment{
			Success:    false,
			Reasoning:  fmt.Sprintf("Error processing verification: %v. Response was: %s", parseErr.Err, summarizePayloadSnippet(parseErr.Raw)),
			Confidence: 0,
			Raw:        parseErr.Raw,
		}
	}
	return Judgment{
		Success:    false,
		Reasoning:  fmt.Sprintf("Vision API error: %v", err),
		Confidence: 0,
	}
}

func clampConfidence(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
