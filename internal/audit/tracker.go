package audit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type failureWindow struct {
	start time.Time
	count int
}

// FailureTracker counts recent failed attempts per key fingerprint within a
// sliding-from-first-failure window. Memory is bounded by the LRU size.
type FailureTracker struct {
	mu     sync.Mutex
	cache  *lru.Cache[string, failureWindow]
	window time.Duration
	now    func() time.Time
}

func NewFailureTracker(maxKeys int, window time.Duration) *FailureTracker {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	c, _ := lru.New[string, failureWindow](maxKeys)
	return &FailureTracker{cache: c, window: window, now: time.Now}
}

// Observe records an outcome and returns the failures seen for fp within
// the window, including this one. A success clears the history.
func (t *FailureTracker) Observe(fp string, success bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if success {
		t.cache.Remove(fp)
		return 0
	}

	now := t.now()
	w, ok := t.cache.Get(fp)
	if !ok || now.Sub(w.start) >= t.window {
		w = failureWindow{start: now}
	}
	w.count++
	t.cache.Add(fp, w)
	return w.count
}
