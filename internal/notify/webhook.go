package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookAdapter POSTs messages to an HTTP endpoint as JSON
type WebhookAdapter struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// WebhookOption configures a WebhookAdapter
type WebhookOption func(*WebhookAdapter)

// WithHeaders sets custom HTTP headers sent with every POST
func WithHeaders(h map[string]string) WebhookOption {
	return func(a *WebhookAdapter) { a.headers = h }
}

// WithTimeout sets the HTTP client timeout. Default: 10s.
func WithTimeout(d time.Duration) WebhookOption {
	return func(a *WebhookAdapter) { a.client.Timeout = d }
}

// NewWebhookAdapter creates a webhook adapter targeting the given URL
func NewWebhookAdapter(url string, opts ...WebhookOption) (*WebhookAdapter, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is required")
	}

	a := &WebhookAdapter{
		url:    url,
		client: &http.Client{Timeout: defaultWebhookTimeout},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Type identifies the adapter implementation
func (a *WebhookAdapter) Type() string { return "webhook" }

// Deliver POSTs the message as JSON. Non-2xx responses are delivery
// failures.
func (a *WebhookAdapter) Deliver(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook POST failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
