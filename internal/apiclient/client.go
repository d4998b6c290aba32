// Package apiclient talks to a running taskproofd over its HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Fields     []FieldError
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("taskproofd: http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("taskproofd: %s: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client provides typed access to the daemon API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithToken sends a bearer token with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New returns a client for the daemon at addr. A bare host:port gets an http:// scheme.
func New(addr string, opts ...Option) *Client {
	base := strings.TrimRight(strings.TrimSpace(addr), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	c := &Client{
		baseURL: base,
		// Verification blocks on the oracle.
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status retrieves the daemon summary.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health retrieves the health payload. A degraded daemon answers 503 with a body,
// which is returned alongside the error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	err := c.do(ctx, http.MethodGet, "/health", nil, "", &out)
	var apiErr *APIError
	if err != nil && errors.As(err, &apiErr) && out.Status != "" {
		return &out, err
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasks returns tasks, optionally filtered by status.
func (c *Client) ListTasks(ctx context.Context, status string) ([]Task, error) {
	path := "/v1/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out []Task
	if err := c.do(ctx, http.MethodGet, path, nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTask returns one task.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var out Task
	if err := c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(id), nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTask schedules a new task.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (*Task, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	var out Task
	if err := c.do(ctx, http.MethodPost, "/v1/tasks", bytes.NewReader(body), "application/json", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteTask removes a task and its history.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/tasks/"+url.PathEscape(id), nil, "", nil)
}

// Verify uploads image as multipart evidence for the task.
func (c *Client) Verify(ctx context.Context, id, filename string, image []byte) (*Verification, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("image", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	var out Verification
	if err := c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(id)+"/verify", &buf, form.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAttempts returns a task's attempts, newest first.
func (c *Client) ListAttempts(ctx context.Context, id string, limit int) ([]Attempt, error) {
	path := "/v1/tasks/" + url.PathEscape(id) + "/attempts"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []Attempt
	if err := c.do(ctx, http.MethodGet, path, nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := decodeError(resp.StatusCode, payload)
		// Some error responses (degraded health) still carry a typed body.
		if out != nil && apiErr.Code == "" {
			_ = json.Unmarshal(payload, out)
		}
		return apiErr
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(status int, payload []byte) *APIError {
	var envelope struct {
		Error struct {
			Code    string       `json:"code"`
			Message string       `json:"message"`
			Fields  []FieldError `json:"fields"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Fields = envelope.Error.Fields
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(payload))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
