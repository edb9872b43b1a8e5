package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/account-workflows/internal/domain"
)

// WebhookNotifier POSTs intents as JSON to a configured URL.
type WebhookNotifier struct {
	url     string
	timeout time.Duration
}

// NewWebhookNotifier builds a notifier for url. A zero timeout defaults to 5s.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{url: url, timeout: timeout}
}

func (n *WebhookNotifier) Notify(ctx context.Context, intent domain.NotificationIntent) error {
	timeout := n.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return ctx.Err()
	}

	agent := fiber.Post(n.url).
		JSON(intent).
		Timeout(timeout)
	agent.Set("X-Notification-Kind", string(intent.Kind))

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("webhook %s: %w", intent.Kind, errs[0])
	}
	if status >= fiber.StatusMultipleChoices {
		return fmt.Errorf("webhook %s: status %d: %s", intent.Kind, status, truncate(string(body), 200))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
