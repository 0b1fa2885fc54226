package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"vpool/internal/model"
	"vpool/pkg/logger"
)

// WebhookSubscriber posts worker events as JSON to an HTTP endpoint
type WebhookSubscriber struct {
	webhookURL string
	client     *http.Client
}

// NewWebhookSubscriber creates a webhook subscriber
func NewWebhookSubscriber(webhookURL string) *WebhookSubscriber {
	return &WebhookSubscriber{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name implements interfaces.Subscriber
func (w *WebhookSubscriber) Name() string {
	return "webhook"
}

// Deliver sends the event; any non-2xx response is a failure
func (w *WebhookSubscriber) Deliver(ctx context.Context, event *model.WorkerEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal worker event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", event.EventID)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status code: %d", resp.StatusCode)
	}

	logger.DebugCtx(ctx, "webhook delivered, worker: %s, event: %s", event.WorkerID, event.EventID)
	return nil
}
