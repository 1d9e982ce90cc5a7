package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/go-chi/render"

	"github.com/technosupport/ts-licensing/internal/ratelimit"
)

type Config struct {
	ValidateIP ratelimit.LimitConfig `yaml:"validate_ip" envconfig:"VALIDATE_IP"`
	Operator   ratelimit.LimitConfig `yaml:"operator" envconfig:"OPERATOR"`
}

// RateLimitMiddleware limits validation calls per client IP and operator
// API calls per operator. Redis is authoritative; when it is unreachable
// the in-process limiter takes over so the endpoint stays protected.
type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
	localIP *ratelimit.LocalLimiter
	localOp *ratelimit.LocalLimiter
	config  atomic.Pointer[Config]
	log     *slog.Logger
}

func NewRateLimitMiddleware(l *ratelimit.Limiter, c Config, logger *slog.Logger) *RateLimitMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	m := &RateLimitMiddleware{
		limiter: l,
		localIP: ratelimit.NewLocalLimiter(c.ValidateIP),
		localOp: ratelimit.NewLocalLimiter(c.Operator),
		log:     logger.With("component", "ratelimit"),
	}
	m.config.Store(&c)
	return m
}

// UpdateConfig swaps limits at runtime (config hot reload).
func (m *RateLimitMiddleware) UpdateConfig(c Config) {
	m.config.Store(&c)
	m.localIP.SetConfig(c.ValidateIP)
	m.localOp.SetConfig(c.Operator)
	m.log.Info("rate limits updated", "validate_rate", c.ValidateIP.Rate, "operator_rate", c.Operator.Rate)
}

func (m *RateLimitMiddleware) Config() Config {
	return *m.config.Load()
}

// LocalLimiters exposes the fallback limiters so the caller can run their
// cleanup loops.
func (m *RateLimitMiddleware) LocalLimiters() []*ratelimit.LocalLimiter {
	return []*ratelimit.LocalLimiter{m.localIP, m.localOp}
}

// ValidateLimiter limits by hashed client IP.
func (m *RateLimitMiddleware) ValidateLimiter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := m.config.Load().ValidateIP
		if cfg.Rate <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ipHash := m.limiter.HashIP(ClientIP(r))
		key := fmt.Sprintf("rl:validate:%s", ipHash)
		if m.allow(w, r, ratelimit.ScopeValidateIP, key, ipHash, cfg, m.localIP) {
			next.ServeHTTP(w, r)
		}
	})
}

// OperatorLimiter limits by authenticated operator; it must run after JWTAuth.
func (m *RateLimitMiddleware) OperatorLimiter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := m.config.Load().Operator
		ac, ok := GetAuthContext(r.Context())
		if cfg.Rate <= 0 || !ok {
			next.ServeHTTP(w, r)
			return
		}

		id := ac.OrgID + ":" + ac.OperatorID
		key := fmt.Sprintf("rl:operator:%s", id)
		if m.allow(w, r, ratelimit.ScopeOperator, key, id, cfg, m.localOp) {
			next.ServeHTTP(w, r)
		}
	})
}

func (m *RateLimitMiddleware) allow(w http.ResponseWriter, r *http.Request, scope ratelimit.Scope, key, localKey string, cfg ratelimit.LimitConfig, local *ratelimit.LocalLimiter) bool {
	decision, err := m.limiter.CheckRateLimit(r.Context(), scope, key, cfg)
	if errors.Is(err, ratelimit.ErrRedisUnavailable) {
		RecordRedisError()
		m.log.Warn("rate limit redis unavailable, using local limiter", "scope", scope)
		decision = local.Allow(scope, localKey)
	} else if err != nil {
		m.log.Error("rate limit check failed", "scope", scope, "error", err)
		return true
	}

	m.writeRateLimitHeaders(w, decision)
	if !decision.Allowed {
		RecordRateLimit(string(scope), "blocked")
		render.Status(r, http.StatusTooManyRequests)
		render.JSON(w, r, map[string]any{"valid": false, "error": "rate limit exceeded"})
		return false
	}
	RecordRateLimit(string(scope), "allowed")
	return true
}

func (m *RateLimitMiddleware) writeRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}
