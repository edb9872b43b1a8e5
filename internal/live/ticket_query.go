package live

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/account-workflows/internal/changefeed"
	"github.com/spec-kit/account-workflows/internal/domain"
	"github.com/spec-kit/account-workflows/internal/observability"
	"github.com/spec-kit/account-workflows/internal/service"
)

// TicketSource lists tickets.
type TicketSource interface {
	ListTickets(ctx context.Context, filter service.TicketListFilter) ([]domain.SupportTicket, error)
}

// TicketQuery streams the ticket collection.
type TicketQuery struct {
	source  TicketSource
	feed    changefeed.Feed
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewTicketQuery builds the query.
func NewTicketQuery(source TicketSource, feed changefeed.Feed, logger *zap.Logger, metrics *observability.Metrics) *TicketQuery {
	return &TicketQuery{source: source, feed: feed, logger: logger, metrics: metrics}
}

// SubscribeToTickets delivers every ticket ordered by last activity, most
// recent first, immediately and after every ticket change. A failed read
// delivers an empty slice.
func (q *TicketQuery) SubscribeToTickets(ctx context.Context, onChange func([]domain.SupportTicket)) Unsubscribe {
	sub := newSubscription(q.feed, changefeed.CollectionTickets)
	any := func(changefeed.Change) bool { return true }

	return sub.run(ctx, q.metrics, "tickets", func(ctx context.Context) {
		requery := func() bool {
			tickets, err := q.source.ListTickets(ctx, service.TicketListFilter{})
			if err != nil {
				q.logger.Warn("live ticket query failed", zap.Error(err))
				tickets = []domain.SupportTicket{}
			}
			return sub.deliver(func() { onChange(tickets) })
		}

		if !requery() {
			return
		}
		for {
			select {
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			case _, ok := <-sub.feed.C():
				if !ok {
					return
				}
				if _, open := sub.drain(any); !open {
					return
				}
				if !requery() {
					return
				}
			}
		}
	})
}
