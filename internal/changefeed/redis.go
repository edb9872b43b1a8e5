package changefeed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the Redis channel changes are published on.
const DefaultChannel = "account-workflows:changes"

// RedisFeed shares changes between replicas through Redis pub/sub and fans
// them out locally.
type RedisFeed struct {
	client  *redis.Client
	channel string
	pubsub  *redis.PubSub
	hub     *hub
	logger  *zap.Logger
	done    chan struct{}
	once    sync.Once
}

// NewRedisFeed subscribes to channel and starts the receive loop.
func NewRedisFeed(ctx context.Context, client *redis.Client, channel string, logger *zap.Logger) (*RedisFeed, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	f := &RedisFeed{
		client:  client,
		channel: channel,
		pubsub:  pubsub,
		hub:     newHub(),
		logger:  logger,
		done:    make(chan struct{}),
	}
	go f.receive()
	return f, nil
}

func (f *RedisFeed) receive() {
	defer close(f.done)
	for msg := range f.pubsub.Channel() {
		var change Change
		if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
			f.logger.Warn("dropping malformed change", zap.String("payload", msg.Payload), zap.Error(err))
			continue
		}
		f.hub.broadcast(change)
	}
}

func (f *RedisFeed) Publish(ctx context.Context, change Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel, data).Err()
}

func (f *RedisFeed) Subscribe(collection string) *Subscription {
	return f.hub.subscribe(collection)
}

// Close stops the receive loop and closes every open subscription.
func (f *RedisFeed) Close() error {
	var err error
	f.once.Do(func() {
		err = f.pubsub.Close()
		<-f.done
		f.hub.close()
	})
	return err
}
