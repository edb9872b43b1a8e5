package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/spec-kit/account-workflows/internal/changefeed"
	"github.com/spec-kit/account-workflows/internal/domain"
	"github.com/spec-kit/account-workflows/internal/events"
	"github.com/spec-kit/account-workflows/internal/repository"
	apperrors "github.com/spec-kit/account-workflows/pkg/util/errorutil"
)

// publisher fans committed transitions out to the event dispatcher and the
// change feed. Both are best effort: failures are logged, never returned.
type publisher struct {
	dispatcher events.Dispatcher
	feed       changefeed.Feed
	logger     *zap.Logger
}

func (p publisher) publishEvent(ctx context.Context, event events.Event) {
	if p.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := p.dispatcher.Publish(ctx, event); err != nil {
		p.logger.Warn("publish event failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func (p publisher) publishChange(ctx context.Context, change changefeed.Change) {
	if p.feed == nil {
		return
	}
	if err := p.feed.Publish(ctx, change); err != nil {
		p.logger.Warn("publish change failed",
			zap.String("collection", change.Collection),
			zap.String("document_id", change.DocumentID),
			zap.Error(err),
		)
	}
}

func principalActor(p domain.Principal) events.Actor {
	return events.Actor{ID: p.ID, Name: p.Name, Role: p.Role}
}

// translate maps repository errors onto the domain error taxonomy.
func translate(op, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *apperrors.DomainError
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound(resource, map[string]any{"id": id})
	case errors.Is(err, repository.ErrConflict):
		return apperrors.NewConflict(resource+" conflicts with an existing record", map[string]any{"id": id})
	default:
		return apperrors.NewStoreError(op, id, err)
	}
}

func defaultTracer(tracer trace.Tracer) trace.Tracer {
	if tracer == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return tracer
}

func defaultLogger(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// endSpan marks span failed when err is set, then ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return apperrors.NewValidationError(field+" is required", map[string]any{"field": field})
	}
	return nil
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	if len(body) <= max {
		return body
	}
	if max <= 3 {
		return body[:max]
	}
	return body[:max-3] + "..."
}
