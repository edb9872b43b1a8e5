// Package live re-delivers materialized views whenever the underlying
// documents change.
package live

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/spec-kit/account-workflows/internal/changefeed"
	"github.com/spec-kit/account-workflows/internal/observability"
)

// Unsubscribe stops a subscription. It is idempotent and releases the change
// feed handle before returning. No delivery starts after it returns; when
// called from inside a delivery it returns without waiting for that delivery.
type Unsubscribe func()

// subscription is the goroutine and bookkeeping shared by every live query.
type subscription struct {
	feed       *changefeed.Subscription
	done       chan struct{}
	exited     chan struct{}
	once       sync.Once
	delivering atomic.Bool
}

func newSubscription(feed changefeed.Feed, collection string) *subscription {
	return &subscription{
		feed:   feed.Subscribe(collection),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (s *subscription) unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		s.feed.Close()
	})
	if !s.delivering.Load() {
		<-s.exited
	}
}

// deliver runs fn unless the subscription has been stopped.
func (s *subscription) deliver(fn func()) bool {
	s.delivering.Store(true)
	defer s.delivering.Store(false)
	select {
	case <-s.done:
		return false
	default:
	}
	fn()
	return true
}

// drain discards queued changes so a burst triggers a single re-query.
func (s *subscription) drain(match func(changefeed.Change) bool) (matched, open bool) {
	for {
		select {
		case change, ok := <-s.feed.C():
			if !ok {
				return matched, false
			}
			if match(change) {
				matched = true
			}
		default:
			return matched, true
		}
	}
}

// run starts loop on its own goroutine and wires bookkeeping around it.
func (s *subscription) run(ctx context.Context, metrics *observability.Metrics, query string, loop func(ctx context.Context)) Unsubscribe {
	metrics.LiveSubscriptionOpened(query)
	go func() {
		defer close(s.exited)
		defer metrics.LiveSubscriptionClosed(query)
		defer s.feed.Close()
		loop(ctx)
	}()
	return s.unsubscribe
}
