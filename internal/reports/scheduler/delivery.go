package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// WebhookDelivery represents a webhook delivery request
type WebhookDelivery struct {
	URL        string            `json:"url"`
	Method     string            `json:"method,omitempty"` // Default: POST
	Headers    map[string]string `json:"headers,omitempty"`
	Payload    map[string]any    `json:"payload"`
	RetryCount int               `json:"retry_count,omitempty"`
}

// DeliveryManager posts report notifications to webhooks
type DeliveryManager struct {
	httpClient *http.Client
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewDeliveryManager creates a delivery manager. A nil client gets a 30s timeout.
func NewDeliveryManager(client *http.Client, logger *zap.Logger) *DeliveryManager {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliveryManager{httpClient: client, retryDelay: time.Second, logger: logger}
}

// DeliverByWebhook sends the payload as JSON, retrying on transport errors
// and non-2xx responses with an exponential backoff. RetryCount is the
// total number of attempts.
func (d *DeliveryManager) DeliverByWebhook(ctx context.Context, delivery *WebhookDelivery) error {
	if delivery.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}

	method := delivery.Method
	if method == "" {
		method = http.MethodPost
	}

	payload, err := json.Marshal(delivery.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	attempts := max(delivery.RetryCount, 1)
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.retryDelay
	policy.MaxInterval = 30 * d.retryDelay

	attempt := 0
	send := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, method, delivery.URL, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		for key, value := range delivery.Headers {
			req.Header.Set(key, value)
		}

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		d.logger.Info("Webhook delivered successfully",
			zap.String("url", delivery.URL),
			zap.Int("status_code", resp.StatusCode))
		return nil
	}

	err = backoff.RetryNotify(send,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx),
		func(err error, wait time.Duration) {
			d.logger.Warn("Webhook attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		})
	if err != nil {
		return fmt.Errorf("webhook delivery failed after %d attempts: %w", attempt, err)
	}
	return nil
}
