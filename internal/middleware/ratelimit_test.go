package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func rateLimitHandler(cfg RateLimitConfig) http.Handler {
	return RateLimitMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	handler := rateLimitHandler(RateLimitConfig{Enabled: false})

	for i := 0; i < 10; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/graphql", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	}
}

func TestRateLimitMiddleware_BurstExhaustion(t *testing.T) {
	handler := rateLimitHandler(RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 3})

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/graphql", nil))
		assert.Equal(t, http.StatusOK, rr.Code, "request %d within burst", i)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/graphql", nil))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rr.Body.String())
}

func TestRateLimitMiddleware_ZeroRateLeavesBucketOpen(t *testing.T) {
	handler := rateLimitHandler(RateLimitConfig{Enabled: true, RPS: 0, Burst: 0})

	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/graphql", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	bucket := newTokenBucket(100, 1)
	assert.True(t, bucket.take())
	assert.False(t, bucket.take())

	// Backdate the last refill instead of sleeping.
	bucket.mu.Lock()
	bucket.refilled = bucket.refilled.Add(-50 * time.Millisecond) // 5 tokens at 100 rps
	bucket.mu.Unlock()

	assert.True(t, bucket.take())
}

func TestTokenBucket_RefillCapsAtBurst(t *testing.T) {
	bucket := newTokenBucket(1000, 2)
	assert.True(t, bucket.take())
	assert.True(t, bucket.take())

	bucket.mu.Lock()
	bucket.refilled = bucket.refilled.Add(-10 * time.Second) // refills far beyond burst
	bucket.mu.Unlock()

	assert.True(t, bucket.take())
	assert.True(t, bucket.take())
	assert.False(t, bucket.take())
}
