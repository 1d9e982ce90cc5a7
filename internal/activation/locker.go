package activation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrLockUnavailable = errors.New("activation lock unavailable")

// Locker serialises work on a key. The returned func releases the lock and
// is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// LocalLocker is a per-key mutex for a single process. Waiting honours ctx.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(key, s)
		})
	}, nil
}

func (l *LocalLocker) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// FallbackLocker uses Primary and switches to Fallback for a call when
// Primary reports ErrLockUnavailable. The store transaction still
// serialises claims across processes when the fallback is in use.
type FallbackLocker struct {
	Primary  Locker
	Fallback Locker
	Logger   *slog.Logger
}

func (f *FallbackLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlock, err := f.Primary.Lock(ctx, key)
	if err == nil {
		return unlock, nil
	}
	if !errors.Is(err, ErrLockUnavailable) {
		return nil, err
	}
	if f.Logger != nil {
		f.Logger.Warn("distributed lock unavailable, using local lock", "key", key, "error", err)
	}
	return f.Fallback.Lock(ctx, key)
}
