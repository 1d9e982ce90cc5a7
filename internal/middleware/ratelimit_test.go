package middleware_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/technosupport/ts-licensing/internal/middleware"
	"github.com/technosupport/ts-licensing/internal/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	})
}

func TestRateLimit_ValidateIP(t *testing.T) {
	mr, _ := miniredis.Run()
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	limiter := ratelimit.NewLimiter(rdb, "salt")
	cfg := middleware.Config{
		ValidateIP: ratelimit.LimitConfig{Rate: 2, Window: time.Second},
	}
	mw := middleware.NewRateLimitMiddleware(limiter, cfg, nil)
	handler := mw.ValidateLimiter(okHandler())

	req := httptest.NewRequest("POST", "/api/v1/licenses/validate", nil)
	req.RemoteAddr = "1.2.3.4:1234"

	// 1. Allow
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	// 2. Allow
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	// 3. Block
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != 429 {
		t.Errorf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Error("Expected remaining 0")
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("429 body not JSON: %v", err)
	}
	if body["valid"] != false || body["error"] != "rate limit exceeded" {
		t.Errorf("Unexpected 429 body: %v", body)
	}

	// 4. Another client is unaffected
	other := httptest.NewRequest("POST", "/api/v1/licenses/validate", nil)
	other.RemoteAddr = "5.6.7.8:1234"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, other)
	if w.Code != 200 {
		t.Errorf("Expected 200 for other IP, got %d", w.Code)
	}
}

func TestRateLimit_RedisDown_LocalFallback(t *testing.T) {
	mr, _ := miniredis.Run()
	addr := mr.Addr()
	mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1})
	limiter := ratelimit.NewLimiter(rdb, "salt")
	cfg := middleware.Config{ValidateIP: ratelimit.LimitConfig{Rate: 1, Window: time.Minute}}
	mw := middleware.NewRateLimitMiddleware(limiter, cfg, nil)
	handler := mw.ValidateLimiter(okHandler())

	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "1.2.3.4:1234"

	// 1. First call passes through the local bucket
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	// 2. Local bucket is exhausted, still protected without redis
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != 429 {
		t.Errorf("Expected 429 from local limiter, got %d", w.Code)
	}
}

func TestRateLimit_Operator(t *testing.T) {
	mr, _ := miniredis.Run()
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	limiter := ratelimit.NewLimiter(rdb, "salt")
	cfg := middleware.Config{
		Operator: ratelimit.LimitConfig{Rate: 1, Window: time.Second},
	}
	mw := middleware.NewRateLimitMiddleware(limiter, cfg, nil)
	handler := mw.OperatorLimiter(okHandler())

	ctx := middleware.WithAuthContext(context.Background(), &middleware.AuthContext{OrgID: "o1", OperatorID: "u1"})
	req := httptest.NewRequest("GET", "/", nil).WithContext(ctx)

	// 1. Allow
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	// 2. Block operator
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != 429 {
		t.Errorf("Expected 429 operator block, got %d", w.Code)
	}

	// 3. Unauthenticated requests are not counted here
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != 200 {
		t.Errorf("Expected 200 without auth context, got %d", w.Code)
	}
}

func TestRateLimit_UpdateConfig(t *testing.T) {
	mr, _ := miniredis.Run()
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	mw := middleware.NewRateLimitMiddleware(ratelimit.NewLimiter(rdb, "salt"), middleware.Config{}, nil)
	handler := mw.ValidateLimiter(okHandler())
	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "9.9.9.9:1"

	// 1. Zero rate disables limiting
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != 200 {
			t.Fatalf("Expected 200 with limits disabled, got %d", w.Code)
		}
	}

	// 2. Reload takes effect without rebuilding the chain
	mw.UpdateConfig(middleware.Config{ValidateIP: ratelimit.LimitConfig{Rate: 1, Window: time.Minute}})
	if mw.Config().ValidateIP.Rate != 1 {
		t.Fatalf("Config not swapped")
	}
	codes := []int{}
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != 200 || codes[1] != 429 {
		t.Errorf("Expected [200 429], got %v", codes)
	}
}
