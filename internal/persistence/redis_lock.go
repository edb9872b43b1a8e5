package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// Lock is a single-holder Redis lock with a TTL.
type Lock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// NewLock prepares a lock on key. A nil client yields a lock that is always
// acquired, which suits single-replica deployments without Redis.
func (r *Redis) NewLock(key string, ttl time.Duration) *Lock {
	var client *redis.Client
	if r != nil {
		client = r.Client
	}
	return &Lock{client: client, key: key, token: uuid.NewString(), ttl: ttl}
}

// TryLock acquires the lock without waiting.
func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	if l.client == nil {
		return true, nil
	}
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Unlock releases the lock if this holder still owns it.
func (l *Lock) Unlock(ctx context.Context) error {
	if l.client == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}
