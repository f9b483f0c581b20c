package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Redis is a Locker shared by every process pointed at the same Redis.
type Redis struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedis builds a Redis locker. ttl bounds how long a crashed holder can
// block others; retry is the polling interval while a key is held elsewhere.
func NewRedis(rdb redis.UniversalClient, ttl, retry time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if retry <= 0 {
		retry = 20 * time.Millisecond
	}
	return &Redis{client: redislock.New(rdb), prefix: "flowledger:lock:", ttl: ttl, retry: retry}
}

func (r *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	held := make([]*redislock.Lock, 0, len(keys))
	release := func() {
		// Release must still run when the caller's ctx is already done.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = held[i].Release(rctx)
		}
	}
	for _, k := range keys {
		l, err := r.client.Obtain(ctx, r.prefix+k, r.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(r.retry),
		})
		if err != nil {
			release()
			if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, ErrNotObtained
			}
			return nil, err
		}
		held = append(held, l)
	}
	return release, nil
}
