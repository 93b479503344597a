package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/debjordan/ModuleHeatmap/pkg/observability"
)

// fakeClock is advanced manually by tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(config *RateLimitConfig) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(config)
	rl.now = clock.Now
	return rl, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter, clock := newTestLimiter(config)
	ctx := context.Background()

	key := "app:crm"

	// Should allow initial requests up to limit + burst
	allowedCount := 0
	for i := 0; i < config.RequestsPerWindow+config.BurstSize+5; i++ {
		d, err := limiter.Allow(ctx, key)
		require.NoError(t, err)
		if d.Allowed {
			allowedCount++
		}
	}

	expected := config.RequestsPerWindow + config.BurstSize
	if allowedCount != expected {
		t.Errorf("Allowed %d requests, want %d", allowedCount, expected)
	}

	d, _ := limiter.Allow(ctx, key)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 100*time.Millisecond, d.ResetAfter)

	// After waiting, tokens should refill
	clock.Advance(time.Second)
	d, _ = limiter.Allow(ctx, key)
	if !d.Allowed {
		t.Error("Should allow request after refill")
	}
	assert.Equal(t, 9, d.Remaining)
}

func TestRateLimiter_KeysIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	ctx := context.Background()

	d, _ := limiter.Allow(ctx, "app:crm")
	assert.True(t, d.Allowed)
	d, _ = limiter.Allow(ctx, "app:crm")
	assert.False(t, d.Allowed)

	d, _ = limiter.Allow(ctx, "app:erp")
	assert.True(t, d.Allowed)
}

func TestRateLimiter_Remaining(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter, _ := newTestLimiter(config)

	key := "app:crm"

	// Check initial remaining
	initial := limiter.Remaining(key)
	expected := config.RequestsPerWindow + config.BurstSize
	if initial != expected {
		t.Errorf("Initial remaining = %d, want %d", initial, expected)
	}

	// Use one token
	limiter.Allow(context.Background(), key)
	remaining := limiter.Remaining(key)
	if remaining != initial-1 {
		t.Errorf("After using 1 token, remaining = %d, want %d", remaining, initial-1)
	}
}

func TestRateLimiter_TokenCapRefill(t *testing.T) {
	limiter, clock := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Second, BurstSize: 2})
	ctx := context.Background()

	limiter.Allow(ctx, "k")
	clock.Advance(time.Hour)
	limiter.Allow(ctx, "k")

	// Refill is capped at capacity, then one token is spent.
	assert.Equal(t, 11, limiter.Remaining("k"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    100 * time.Millisecond,
		BurstSize:         2,
	}
	limiter, clock := newTestLimiter(config)

	// Create some buckets
	keys := []string{"app:a", "app:b", "app:c"}
	for _, key := range keys {
		limiter.Allow(context.Background(), key)
	}

	// Buckets should exist
	if len(limiter.buckets) != len(keys) {
		t.Errorf("Expected %d buckets, got %d", len(keys), len(limiter.buckets))
	}

	clock.Advance(300 * time.Millisecond)
	limiter.Cleanup()

	if len(limiter.buckets) != 0 {
		t.Errorf("Expected 0 buckets after cleanup, got %d", len(limiter.buckets))
	}
}

func TestRateLimiter_Concurrency(t *testing.T) {
	limiter, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Minute, BurstSize: 0})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := limiter.Allow(context.Background(), "app:crm")
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestRateLimiter_StartCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 10, WindowDuration: 10 * time.Millisecond})
	limiter.Allow(ctx, "app:crm")
	limiter.StartCleanup(ctx)

	assert.Eventually(t, func() bool {
		limiter.mu.RLock()
		defer limiter.mu.RUnlock()
		return len(limiter.buckets) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestNewRateLimiter_NilConfig(t *testing.T) {
	limiter := NewRateLimiter(nil)
	assert.Equal(t, DefaultRateLimitConfig(), limiter.config)
	assert.Equal(t, "memory", limiter.Name())
}

func setupRedisLimiter(t *testing.T, config *RateLimitConfig) (*miniredis.Miniredis, *DistributedRateLimiter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	return mr, NewDistributedRateLimiter(client, config, "")
}

func TestDistributedRateLimiter_Allow(t *testing.T) {
	mr, limiter := setupRedisLimiter(t, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute, BurstSize: 1})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		d, err := limiter.Allow(ctx, "app:crm")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 3-i, d.Remaining)
		assert.Equal(t, 3, d.Limit)
	}

	d, err := limiter.Allow(ctx, "app:crm")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Minute, mr.TTL("heatmap:ratelimit:app:crm"))

	// The window expires and the counter starts over.
	mr.FastForward(time.Minute)
	d, err = limiter.Allow(ctx, "app:crm")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	require.NoError(t, limiter.Reset(ctx, "app:crm"))
	assert.False(t, mr.Exists("heatmap:ratelimit:app:crm"))
}

func TestDistributedRateLimiter_WindowNotExtended(t *testing.T) {
	mr, limiter := setupRedisLimiter(t, &RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute})
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "app:crm")
	require.NoError(t, err)
	mr.FastForward(40 * time.Second)

	d, err := limiter.Allow(ctx, "app:crm")
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, d.ResetAfter)
}

func TestDistributedRateLimiter_RedisDown(t *testing.T) {
	mr, limiter := setupRedisLimiter(t, nil)
	mr.Close()

	_, err := limiter.Allow(context.Background(), "app:crm")
	assert.ErrorContains(t, err, "redis error")
	assert.Error(t, limiter.HealthCheck(context.Background()))
}

func TestKey(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/tracking/track", nil)
	req.RemoteAddr = "192.0.2.10:5000"
	assert.Equal(t, "ip:192.0.2.10", Key(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "ip:203.0.113.5", Key(req))

	req.Header.Set("X-Application-Id", "crm")
	assert.Equal(t, "app:crm", Key(req))
}

type erroringLimiter struct{}

func (erroringLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("connection refused")
}

func (erroringLimiter) Name() string { return "redis" }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
}

func trackRequest(appID string) *http.Request {
	req := httptest.NewRequest("POST", "/api/tracking/track", nil)
	if appID != "" {
		req.Header.Set("X-Application-Id", appID)
	}
	return req
}

func TestRateLimitMiddleware_Handler(t *testing.T) {
	limiter, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	m := NewRateLimitMiddleware(limiter, nil, nil, metrics)
	handler := m.Handler(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, trackRequest("crm"))
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(1-i), w.Header().Get("X-RateLimit-Remaining"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, trackRequest("crm"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues("memory")))

	// Another application has its own budget.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, trackRequest("erp"))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestRateLimitMiddleware_Fallback(t *testing.T) {
	local, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	handler := NewRateLimitMiddleware(erroringLimiter{}, local, nil, nil).Handler(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, trackRequest("crm"))
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, trackRequest("crm"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimitMiddleware_FailOpen(t *testing.T) {
	handler := NewRateLimitMiddleware(erroringLimiter{}, nil, nil, nil).Handler(okHandler())

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, trackRequest("crm"))
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	handler := NewRateLimitMiddleware(nil, nil, nil, nil).Handler(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, trackRequest(""))
	assert.Equal(t, http.StatusAccepted, w.Code)
}
