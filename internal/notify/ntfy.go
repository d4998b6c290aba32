package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = "taskproof/1.0"

// NtfyNotifier publishes to an ntfy topic URL.
type NtfyNotifier struct {
	endpoint string
	priority string
	client   *http.Client
}

// NewNtfyNotifier creates a notifier for the given topic URL, e.g. https://ntfy.sh/my-topic.
func NewNtfyNotifier(topicURL string, timeout time.Duration) (*NtfyNotifier, error) {
	topicURL = strings.TrimSpace(topicURL)
	if topicURL == "" {
		return nil, fmt.Errorf("ntfy url is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NtfyNotifier{
		endpoint: topicURL,
		priority: "urgent",
		client:   &http.Client{Timeout: timeout},
	}, nil
}

func (n *NtfyNotifier) Send(ctx context.Context, title, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if title != "" {
		req.Header.Set("Title", title)
	}
	req.Header.Set("Tags", "taskproof,alarm_clock")
	if n.priority != "" {
		req.Header.Set("Priority", n.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
