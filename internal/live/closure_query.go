package live

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/account-workflows/internal/changefeed"
	"github.com/spec-kit/account-workflows/internal/domain"
	"github.com/spec-kit/account-workflows/internal/observability"
	"github.com/spec-kit/account-workflows/internal/service"
	"github.com/spec-kit/account-workflows/internal/timemath"
)

// ClosureSource reads and decorates an investor's current closure request.
type ClosureSource interface {
	GetCurrentRequest(ctx context.Context, investorID string) (*domain.ClosureRequest, error)
	Decorate(req *domain.ClosureRequest, now time.Time) *service.ClosureView
}

// ClosureQuery streams an investor's current closure request.
type ClosureQuery struct {
	source  ClosureSource
	feed    changefeed.Feed
	clock   timemath.Clock
	refresh time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewClosureQuery builds the query. refresh is capped at one minute.
func NewClosureQuery(source ClosureSource, feed changefeed.Feed, clock timemath.Clock, refresh time.Duration, logger *zap.Logger, metrics *observability.Metrics) *ClosureQuery {
	if refresh <= 0 || refresh > time.Minute {
		refresh = time.Minute
	}
	if clock == nil {
		clock = timemath.SystemClock{}
	}
	return &ClosureQuery{source: source, feed: feed, clock: clock, refresh: refresh, logger: logger, metrics: metrics}
}

// SubscribeToCurrentRequest delivers the investor's current request
// immediately, again after every change to it, and on every refresh tick
// while its countdown is running. nil is delivered when there is no request
// or it cannot be read.
func (q *ClosureQuery) SubscribeToCurrentRequest(ctx context.Context, investorID string, onChange func(*service.ClosureView)) Unsubscribe {
	sub := newSubscription(q.feed, changefeed.CollectionClosures)
	matches := func(change changefeed.Change) bool { return change.Key == investorID }

	return sub.run(ctx, q.metrics, "closure", func(ctx context.Context) {
		var (
			current *domain.ClosureRequest
			ticker  *time.Ticker
			tick    <-chan time.Time
		)
		stopTicker := func() {
			if ticker != nil {
				ticker.Stop()
				ticker, tick = nil, nil
			}
		}
		defer stopTicker()

		// schedule keeps the ticker running only while the countdown is live.
		schedule := func(now time.Time) {
			if current != nil && timemath.NeedsRefresh(current.Status(), current.ApprovalDate(), now) {
				if ticker == nil {
					ticker = time.NewTicker(q.refresh)
					tick = ticker.C
				}
				return
			}
			stopTicker()
		}

		requery := func() bool {
			req, err := q.source.GetCurrentRequest(ctx, investorID)
			if err != nil {
				q.logger.Warn("live closure query failed", zap.String("investor_id", investorID), zap.Error(err))
				req = nil
			}
			current = req
			now := q.clock.Now()
			var view *service.ClosureView
			if req != nil {
				view = q.source.Decorate(req, now)
			}
			schedule(now)
			return sub.deliver(func() { onChange(view) })
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
			case change, ok := <-sub.feed.C():
				if !ok {
					return
				}
				matched, open := sub.drain(matches)
				if !open {
					return
				}
				if (matches(change) || matched) && !requery() {
					return
				}
			case <-tick:
				now := q.clock.Now()
				if current == nil {
					stopTicker()
					continue
				}
				view := q.source.Decorate(current, now)
				schedule(now)
				if !sub.deliver(func() { onChange(view) }) {
					return
				}
			}
		}
	})
}
