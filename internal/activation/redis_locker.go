package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	log    *slog.Logger
}

// NewRedisLocker locks with SET NX PX. ttl bounds how long a crashed holder
// can block a license; it must exceed the activation write timeout.
func NewRedisLocker(client redis.UniversalClient, ttl, retry time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, ttl: ttl, retry: retry, log: logger}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := fmt.Sprintf("lock:%s", key)
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retry):
		}
	}

	return func() {
		// Release must run even if the request context is already gone.
		relCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(relCtx, r.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			r.log.Warn("failed to release activation lock", "key", redisKey, "error", err)
		}
	}, nil
}
