package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type verdictPayload struct {
	Success    *bool    `json:"success"`
	Reasoning  *string  `json:"reasoning"`
	Confidence *float64 `json:"confidence"`
}

// ParseVerdict reads a {success, reasoning, confidence} object from model output.
// Every field is required; confidence is clamped to [0, 1].
func ParseVerdict(content string) (Judgment, error) {
	var payload verdictPayload
	if err := DecodeJSON(content, &payload); err != nil {
		return Judgment{}, &ParseError{Raw: content, Err: err}
	}
	var missing []string
	if payload.Success == nil {
		missing = append(missing, "success")
	}
	if payload.Reasoning == nil {
		missing = append(missing, "reasoning")
	}
	if payload.Confidence == nil {
		missing = append(missing, "confidence")
	}
	if len(missing) > 0 {
		return Judgment{}, &ParseError{Raw: content, Err: fmt.Errorf("missing field(s) %s", strings.Join(missing, ", "))}
	}
	return Judgment{
		Success:    *payload.Success,
		Reasoning:  strings.TrimSpace(*payload.Reasoning),
		Confidence: clampConfidence(*payload.Confidence),
		Raw:        content,
	}, nil
}

// DecodeJSON decodes JSON from a model response, tolerating code fences and
// prose around the object.
func DecodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}

	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}

	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return fmt.Errorf("%w (payload snippet: %s)", directErr, summarizePayloadSnippet(trimmed))
	}

	sanitizedErr := json.Unmarshal([]byte(sanitized), target)
	if sanitizedErr == nil {
		return nil
	}
	return fmt.Errorf("%w (sanitized payload snippet: %s)", sanitizedErr, summarizePayloadSnippet(sanitized))
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFenceBlock(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFenceBlock(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func summarizePayloadSnippet(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "<empty>"
	}
	clean := strings.Join(strings.Fields(trimmed), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
