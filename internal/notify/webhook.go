package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"alertengine/pkg/models"
)

// WebhookConfig configures the generic webhook.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// WebhookPayload is the generic webhook body.
type WebhookPayload struct {
	Type      string       `json:"type"`
	Alert     models.Alert `json:"alert"`
	Link      string       `json:"link"`
	Reason    string       `json:"reason,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Source    string       `json:"source"`
}

// WebhookChannel posts JSON payloads to an arbitrary endpoint.
type WebhookChannel struct {
	id     string
	poster *poster
}

// NewWebhookChannel creates a webhook channel.
func NewWebhookChannel(id string, cfg WebhookConfig) (*WebhookChannel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook channel %s: URL is empty", id)
	}
	return &WebhookChannel{id: id, poster: newPoster(cfg.URL, cfg.Timeout, cfg.Headers)}, nil
}

func (c *WebhookChannel) ID() string   { return c.id }
func (c *WebhookChannel) Type() string { return TypeWebhook }

// Send posts one payload.
func (c *WebhookChannel) Send(ctx context.Context, n Notification) error {
	ts := n.SentAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return c.poster.postJSON(ctx, WebhookPayload{
		Type:      n.Kind,
		Alert:     n.Alert,
		Link:      n.Link,
		Reason:    n.Reason,
		Timestamp: ts,
		Source:    "alertengine",
	})
}

type poster struct {
	url     string
	headers map[string]string
	client  *http.Client
}

func newPoster(url string, timeout time.Duration, headers map[string]string) *poster {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &poster{url: url, headers: headers, client: &http.Client{Timeout: timeout}}
}

func (p *poster) postJSON(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "alertengine/1.0")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http request failed with status %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}
