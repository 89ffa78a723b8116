package pairlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/zulandar/tradepost/internal/logging"
	"go.uber.org/zap"
)

// DefaultLease is how long a Redis hold survives a crashed holder.
const DefaultLease = 30 * time.Second

const (
	redisKeyPrefix = "tradepost:pairlock:"
	minPoll        = 10 * time.Millisecond
	maxPoll        = 200 * time.Millisecond
)

// releaseScript deletes the key only while it still carries our token, so an
// expired lease that was taken over by another holder is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every process pointed at the same Redis.
type RedisLocker struct {
	client *redis.Client
	lease  time.Duration
}

// NewRedisLocker returns a RedisLocker. A non-positive lease uses DefaultLease.
func NewRedisLocker(client *redis.Client, lease time.Duration) *RedisLocker {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &RedisLocker{client: client, lease: lease}
}

// Acquire implements Locker by polling SET NX PX with capped backoff.
func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	k := redisKeyPrefix + key
	token := uuid.NewString()
	wait := minPoll

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.lease).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("pairlock: redis set %s: %w", k, err)
		}
		if ok {
			return r.releaser(k, token), nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if wait < maxPoll {
			wait *= 2
		}
	}
}

func (r *RedisLocker) releaser(k, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{k}, token).Err(); err != nil {
				logging.L().Warn("pairlock: redis release failed", zap.String("key", k), zap.Error(err))
			}
		})
	}
}
