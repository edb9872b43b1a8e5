package changefeed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Change {
	t.Helper()
	select {
	case change, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return change
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
	return Change{}
}

func TestMemoryFeedDeliversByCollection(t *testing.T) {
	feed := NewMemoryFeed()
	defer feed.Close()

	closures := feed.Subscribe(CollectionClosures)
	tickets := feed.Subscribe(CollectionTickets)
	defer closures.Close()
	defer tickets.Close()

	require.NoError(t, feed.Publish(context.Background(), Change{Collection: CollectionClosures, DocumentID: "c-1", Key: "inv-1"}))

	got := receive(t, closures)
	assert.Equal(t, "c-1", got.DocumentID)
	assert.Equal(t, "inv-1", got.Key)

	select {
	case change := <-tickets.C():
		t.Fatalf("unexpected change %+v", change)
	default:
	}
}

func TestSubscriptionCloseIsIdempotentAndClosesChannel(t *testing.T) {
	feed := NewMemoryFeed()
	defer feed.Close()

	sub := feed.Subscribe(CollectionTickets)
	sub.Close()
	sub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)

	require.NoError(t, feed.Publish(context.Background(), Change{Collection: CollectionTickets}))
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	feed := NewMemoryFeed()
	defer feed.Close()

	sub := feed.Subscribe(CollectionTickets)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriptionBuffer*4; i++ {
			_ = feed.Publish(context.Background(), Change{Collection: CollectionTickets})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
	assert.Len(t, sub.C(), subscriptionBuffer)
}

func TestFeedCloseEndsSubscriptions(t *testing.T) {
	feed := NewMemoryFeed()
	sub := feed.Subscribe(CollectionClosures)
	require.NoError(t, feed.Close())

	_, ok := <-sub.C()
	assert.False(t, ok)
	sub.Close()

	late := feed.Subscribe(CollectionClosures)
	_, ok = <-late.C()
	assert.False(t, ok)
}
