package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter is a per-key token bucket held in process memory. It is the
// fallback when redis cannot be reached, so limits are per replica.
type LocalLimiter struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	cfg     LimitConfig
	idle    time.Duration
}

func NewLocalLimiter(cfg LimitConfig) *LocalLimiter {
	return &LocalLimiter{
		entries: make(map[string]*localEntry),
		cfg:     cfg,
		idle:    10 * time.Minute,
	}
}

func (l *LocalLimiter) limitFor(cfg LimitConfig) (rate.Limit, int) {
	if cfg.Rate <= 0 || cfg.Window <= 0 {
		return rate.Inf, 0
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.Rate
	}
	return rate.Limit(float64(cfg.Rate) / cfg.Window.Seconds()), burst
}

// SetConfig swaps the limits; existing buckets are rebuilt on next use.
func (l *LocalLimiter) SetConfig(cfg LimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
	l.entries = make(map[string]*localEntry)
}

func (l *LocalLimiter) Allow(scope Scope, key string) *Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		lim, burst := l.limitFor(l.cfg)
		e = &localEntry{limiter: rate.NewLimiter(lim, burst)}
		l.entries[key] = e
	}
	e.lastSeen = time.Now()

	allowed := e.limiter.Allow()
	remaining := int(e.limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	d := &Decision{
		Scope:     scope,
		Limit:     l.cfg.Rate,
		Remaining: remaining,
		Reset:     time.Now().Add(l.cfg.Window),
		Allowed:   allowed,
	}
	if !allowed {
		d.RetryAfter = 1
		if lim := e.limiter.Limit(); lim > 0 && lim != rate.Inf {
			d.RetryAfter = int(1/float64(lim)) + 1
		}
	}
	return d
}

// Cleanup drops buckets idle longer than the idle window every interval
// until ctx is done.
func (l *LocalLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.prune(time.Now())
		}
	}
}

func (l *LocalLimiter) prune(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > l.idle {
			delete(l.entries, k)
		}
	}
}
