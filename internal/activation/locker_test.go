package activation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-licensing/internal/activation"
)

// 1. Local lock blocks a second holder until released
func TestLocalLocker_Exclusive(t *testing.T) {
	l := activation.NewLocalLocker()

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Other keys are independent
	unlockOther, err := l.Lock(context.Background(), "other")
	require.NoError(t, err)
	unlockOther()

	unlock()
	unlock2, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock2()
}

// 2. Redis lock is exclusive and released by owner
func TestRedisLocker_Exclusive(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := activation.NewRedisLocker(client, time.Second, 5*time.Millisecond, nil)

	unlock, err := l.Lock(context.Background(), "activation:lic-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:activation:lic-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "activation:lic-1")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	unlock()
	assert.False(t, mr.Exists("lock:activation:lic-1"))

	unlock2, err := l.Lock(context.Background(), "activation:lic-1")
	require.NoError(t, err)
	unlock2()
}

// 3. Stale unlock does not delete a lock now owned by someone else
func TestRedisLocker_ReleaseChecksOwner(t *testing.T) {
	mr, _ := miniredis.Run()
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := activation.NewRedisLocker(client, 50*time.Millisecond, 5*time.Millisecond, nil)

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	mr.FastForward(100 * time.Millisecond) // first holder's lease lapses
	unlock2, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	unlock() // stale
	assert.True(t, mr.Exists("lock:k"))
	unlock2()
	assert.False(t, mr.Exists("lock:k"))
}

// 4. Redis down: FallbackLocker serves the lock locally
func TestFallbackLocker_RedisDown(t *testing.T) {
	mr, _ := miniredis.Run()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	mr.Close()

	primary := activation.NewRedisLocker(client, time.Second, time.Millisecond, nil)
	_, err := primary.Lock(context.Background(), "k")
	require.ErrorIs(t, err, activation.ErrLockUnavailable)

	f := &activation.FallbackLocker{Primary: primary, Fallback: activation.NewLocalLocker()}
	unlock, err := f.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
}
