package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1/chat/completions"
	DefaultModel   = "meta-llama/llama-4-scout-17b-16e-instruct"

	defaultHTTPTimeout    = 30 * time.Second
	defaultTemperature    = 0.2
	defaultMaxTokens      = 1024
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
)

// Config captures the settings required to reach an OpenAI-compatible vision model.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    float64
	MaxTokens      int
	TimeoutSeconds int
}

// VisionClient judges evidence with a vision-capable chat completion model.
type VisionClient struct {
	cfg        Config
	httpClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
}

// Option customizes the client.
type Option func(*VisionClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *VisionClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the default retry count.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *VisionClient) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *VisionClient) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// NewVisionClient constructs a client from cfg, filling defaults.
func NewVisionClient(cfg Config, opts ...Option) *VisionClient {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	client := &VisionClient{
		cfg:              cfg,
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Model returns the configured model name.
func (c *VisionClient) Model() string {
	return c.cfg.Model
}

const judgePrompt = `Analyze this image for compliance with the following verification instructions: %q

Return your response in this exact JSON format:
{
    "success": true/false,
    "reasoning": "detailed explanation of what you see and why it passes/fails verification",
    "confidence": 0.0-1.0
}

Focus on:
1. Whether the image meets the specific requirements in the instructions
2. The clarity and quality of the image
3. Any relevant details that support or contradict the requirements
4. Return only raw JSON without any markdown formatting or code fences.
5. Confidence should be low if the picture does not match the instructions and high if it does.`

// Judge sends the image and instructions to the model and parses its verdict.
// Transport failures and unreadable output are returned as errors; callers
// decide how to record them.
func (c *VisionClient) Judge(ctx context.Context, image []byte, instructions string) (Judgment, error) {
	if len(image) == 0 {
		return Judgment{}, errors.New("vision judge: image required")
	}
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return Judgment{}, errors.New("vision judge: instructions required")
	}
	if c.cfg.APIKey == "" {
		return Judgment{}, errors.New("vision judge: api key required")
	}
	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: fmt.Sprintf(judgePrompt, instructions)},
					{Type: "image_url", ImageURL: &imageURL{URL: dataURL(image)}},
				},
			},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	content, err := c.completionContentWithRetry(ctx, payload, "vision judge")
	if err != nil {
		return Judgment{}, err
	}
	return ParseVerdict(content)
}

// HealthCheck sends a minimal text-only completion to verify credentials and reachability.
func (c *VisionClient) HealthCheck(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return errors.New("vision health: api key required")
	}
	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: []contentPart{{Type: "text", Text: `Respond with {"status":"ok"}`}}},
		},
		Temperature: 0,
		MaxTokens:   16,
	}
	if _, err := c.completionContentWithRetry(ctx, payload, "vision health"); err != nil {
		return err
	}
	return nil
}

func dataURL(image []byte) string {
	mediaType := http.DetectContentType(image)
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = "image/jpeg"
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(image)
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("vision request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

type emptyContentError struct {
	Op           string
	FinishReason string
	Refusal      string
}

func (e *emptyContentError) Error() string {
	return fmt.Sprintf("%s: empty content (finish_reason=%q, refusal=%q)", e.Op, e.FinishReason, e.Refusal)
}

func (c *VisionClient) completionContentWithRetry(ctx context.Context, payload chatCompletionRequest, op string) (string, error) {
	attempts := c.retryMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		completion, err := c.sendOnce(ctx, payload)
		if err == nil {
			if content, finish, refusal := extractContent(completion); content != "" {
				return content, nil
			} else if len(completion.Choices) == 0 {
				err = fmt.Errorf("%s: empty choices", op)
			} else {
				err = &emptyContentError{Op: op, FinishReason: finish, Refusal: refusal}
			}
		}
		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return "", err
		}
		if err := sleep(ctx, delay); err != nil {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("%s: failed after %d attempts: %w", op, attempts, lastErr)
}

func extractContent(completion chatCompletionResponse) (content, finishReason, refusal string) {
	for _, choice := range completion.Choices {
		if finishReason == "" {
			finishReason = strings.TrimSpace(choice.FinishReason)
		}
		if refusal == "" {
			refusal = strings.TrimSpace(choice.Message.Refusal)
		}
		if text := strings.TrimSpace(choice.Message.Content); text != "" {
			return text, finishReason, refusal
		}
	}
	return "", finishReason, refusal
}

func (c *VisionClient) sendOnce(ctx context.Context, payload chatCompletionRequest) (chatCompletionResponse, error) {
	var completion chatCompletionResponse
	encoded, err := json.Marshal(payload)
	if err != nil {
		return completion, fmt.Errorf("vision request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return completion, fmt.Errorf("vision request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return completion, fmt.Errorf("vision request: http error (timeout=%s): %w", c.httpClient.Timeout, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return completion, fmt.Errorf("vision request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return completion, &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return completion, fmt.Errorf("vision request: decode response: %w", err)
	}
	if completion.Error != nil {
		return completion, fmt.Errorf("vision request: api error: %s", strings.TrimSpace(completion.Error.Message))
	}
	return completion, nil
}

func (c *VisionClient) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if err == nil || attempt >= maxAttempts || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	var emptyErr *emptyContentError
	if errors.As(err, &emptyErr) {
		return c.backoffDelay(attempt), true
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			if statusErr.RetryAfter > 0 {
				return c.capDelay(statusErr.RetryAfter), true
			}
			return c.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.backoffDelay(attempt), true
	}
	return 0, false
}

// backoffDelay doubles from the base delay: attempt 1 -> base, 2 -> base*2, ...
func (c *VisionClient) backoffDelay(attempt int) time.Duration {
	delay := c.retryBaseDelay
	if delay <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		if delay > c.retryMaxDelay/2 {
			delay = c.retryMaxDelay
			break
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *VisionClient) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if c.retryMaxDelay > 0 && delay > c.retryMaxDelay {
		return c.retryMaxDelay
	}
	return delay
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

var _ Oracle = (*VisionClient)(nil)
