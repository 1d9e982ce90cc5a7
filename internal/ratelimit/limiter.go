package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRedisUnavailable  = errors.New("redis unavailable")
)

type Scope string

const (
	ScopeValidateIP Scope = "validate_ip"
	ScopeOperator   Scope = "operator"
)

type Decision struct {
	Scope      Scope
	Limit      int
	Remaining  int
	Reset      time.Time // When the window resets
	RetryAfter int       // Seconds
	Allowed    bool
}

type LimitConfig struct {
	Rate   int           `yaml:"rate" envconfig:"RATE"`
	Window time.Duration `yaml:"window" envconfig:"WINDOW"`
	Burst  int           `yaml:"burst" envconfig:"BURST"`
}

// fixedWindow increments the counter, starts the window on first hit and
// returns the count with the remaining window in ms.
var fixedWindow = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if tonumber(current) == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	local ttl = redis.call("PTTL", KEYS[1])
	return {current, ttl}
`)

type Limiter struct {
	client redis.UniversalClient
	salt   string // For IP hashing stability
}

func NewLimiter(client redis.UniversalClient, salt string) *Limiter {
	if salt == "" {
		salt = "default-salt-change-me"
	}
	return &Limiter{client: client, salt: salt}
}

// HashIP creates a privacy-safe hash of the IP
func (l *Limiter) HashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip + l.salt))
	return hex.EncodeToString(hash[:])
}

// CheckRateLimit counts a hit against key in a fixed window that starts
// with the first hit.
func (l *Limiter) CheckRateLimit(ctx context.Context, scope Scope, key string, config LimitConfig) (*Decision, error) {
	vals, err := fixedWindow.Run(ctx, l.client, []string{key}, config.Window.Milliseconds()).Int64Slice()
	if err != nil || len(vals) != 2 {
		return nil, ErrRedisUnavailable
	}

	count, ttlMs := int(vals[0]), vals[1]
	if ttlMs < 0 {
		ttlMs = config.Window.Milliseconds()
	}
	resetIn := time.Duration(ttlMs) * time.Millisecond

	remaining := config.Rate - count
	if remaining < 0 {
		remaining = 0
	}

	retryAfter := int((resetIn + time.Second - 1) / time.Second)
	return &Decision{
		Scope:      scope,
		Limit:      config.Rate,
		Remaining:  remaining,
		Reset:      time.Now().Add(resetIn),
		RetryAfter: retryAfter,
		Allowed:    count <= config.Rate,
	}, nil
}
