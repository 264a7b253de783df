package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnt/chainwatch/internal/utils"
)

const userAgent = "chainwatch"

// WebhookDispatcher posts each alert as a JSON Message
type WebhookDispatcher struct {
	client *utils.HTTPClient
	logger zerolog.Logger
}

// NewWebhookDispatcher targets url. A non-empty token is sent as a bearer
// Authorization header on every request.
func NewWebhookDispatcher(url, token string, timeout time.Duration, logger zerolog.Logger) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	headers := map[string]string{"User-Agent": userAgent}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return &WebhookDispatcher{
		client: utils.NewHTTPClient(
			utils.WithBaseURL(url),
			utils.WithDefaultHeaders(headers),
			utils.WithTimeout(timeout),
			// Retries happen on the next poll cycle, not here
			utils.WithRetries(0, 0),
		),
		logger: logger.With().Str("component", "notify_webhook").Logger(),
	}
}

func (d *WebhookDispatcher) Deliver(ctx context.Context, destination, text string) error {
	resp, err := d.client.PostContext(ctx, "", Message{
		Destination: destination,
		Text:        text,
		SentAt:      time.Now().UTC(),
	}, nil)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}

	d.logger.Debug().Str("destination", destination).Int("status", resp.StatusCode).Msg("Delivered alert to webhook")
	return nil
}

func (d *WebhookDispatcher) Close() error {
	return nil
}
