// Package changefeed notifies live queries that a stored document changed.
package changefeed

import (
	"context"
	"sync"
)

// Collections published by the workflow engines.
const (
	CollectionClosures = "closure_requests"
	CollectionTickets  = "support_tickets"
)

// subscriptionBuffer bounds pending changes per subscriber. Subscribers
// re-query on every change, so a full buffer already guarantees a pending
// re-query and further changes can be dropped.
const subscriptionBuffer = 32

// Change identifies a modified document. Key carries the filter value live
// queries match on, e.g. the investor id of a closure request.
type Change struct {
	Collection string `json:"collection"`
	DocumentID string `json:"documentId"`
	Key        string `json:"key,omitempty"`
}

// Feed publishes and fans out changes.
type Feed interface {
	Publish(ctx context.Context, change Change) error
	Subscribe(collection string) *Subscription
	Close() error
}

// Subscription receives changes for one collection until closed.
type Subscription struct {
	ch     chan Change
	once   sync.Once
	cancel func()
}

// C returns the delivery channel. It is closed when the subscription is.
func (s *Subscription) C() <-chan Change {
	return s.ch
}

// Close detaches the subscription. No change is sent after Close returns.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// hub is the in-process fan-out shared by every Feed implementation.
type hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[*Subscription]struct{})}
}

func (h *hub) broadcast(change Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[change.Collection] {
		select {
		case sub.ch <- change:
		default:
		}
	}
}

func (h *hub) subscribe(collection string) *Subscription {
	sub := &Subscription{ch: make(chan Change, subscriptionBuffer)}
	sub.cancel = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[collection]; ok {
			if _, ok := set[sub]; ok {
				delete(set, sub)
				close(sub.ch)
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		sub.cancel = func() {}
		return sub
	}
	if h.subs[collection] == nil {
		h.subs[collection] = make(map[*Subscription]struct{})
	}
	h.subs[collection][sub] = struct{}{}
	return sub
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for sub := range set {
			close(sub.ch)
		}
	}
	h.subs = map[string]map[*Subscription]struct{}{}
}

// MemoryFeed delivers changes within the process.
type MemoryFeed struct {
	hub *hub
}

// NewMemoryFeed builds an in-process feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{hub: newHub()}
}

func (f *MemoryFeed) Publish(_ context.Context, change Change) error {
	f.hub.broadcast(change)
	return nil
}

func (f *MemoryFeed) Subscribe(collection string) *Subscription {
	return f.hub.subscribe(collection)
}

func (f *MemoryFeed) Close() error {
	f.hub.close()
	return nil
}
