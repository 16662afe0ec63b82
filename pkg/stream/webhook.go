package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/observa/pulse/pkg/events"
)

// WebhookStream delivers each matching event as a JSON POST to a fixed URL.
type WebhookStream struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookStream creates a webhook transport. A nil client falls back to
// http.DefaultClient; headers are added to every request.
func NewWebhookStream(url string, headers map[string]string, client *http.Client) *WebhookStream {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookStream{url: url, headers: headers, client: client}
}

// Send posts the event to the webhook URL. A non-2xx response is a send
// failure.
func (w *WebhookStream) Send(ctx context.Context, event *events.DebugEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op; webhook delivery holds no persistent connection.
func (w *WebhookStream) Close() error { return nil }
