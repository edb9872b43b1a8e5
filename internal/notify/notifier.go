// Package notify delivers notification intents to outbound sinks.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spec-kit/account-workflows/internal/domain"
)

// Notifier delivers one intent. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, intent domain.NotificationIntent) error
}

// LogNotifier writes intents to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, intent domain.NotificationIntent) error {
	n.logger.Info("notification",
		zap.String("recipient_id", intent.RecipientID),
		zap.String("recipient_role", string(intent.RecipientRole)),
		zap.String("kind", string(intent.Kind)),
		zap.String("priority", string(intent.Priority)),
		zap.String("title", intent.Title),
	)
	return nil
}

// Fanout delivers to every sink and joins their errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, intent domain.NotificationIntent) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, intent); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
