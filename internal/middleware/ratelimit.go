package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// noopMiddleware is returned by constructors whose feature is disabled.
func noopMiddleware(next http.Handler) http.Handler { return next }

// RateLimitConfig configures a process-wide token bucket limiter.
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// RateLimitMiddleware rejects requests above the configured rate with a
// 429 response.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return noopMiddleware
	}

	bucket := newTokenBucket(cfg.RPS, cfg.Burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bucket.take() {
				next.ServeHTTP(w, r)
				return
			}
			writeRateLimited(w)
		})
	}
}

func writeRateLimited(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = fmt.Fprint(w, `{"error":"rate limit exceeded"}`)
}

// tokenBucket refills at rate tokens per second up to burst. A zero rate or
// burst leaves the bucket open.
type tokenBucket struct {
	mu       sync.Mutex
	rate     float64
	burst    float64
	tokens   float64
	refilled time.Time
}

func newTokenBucket(rps float64, burst int) *tokenBucket {
	tb := &tokenBucket{}
	if rps > 0 && burst > 0 {
		tb.rate = rps
		tb.burst = float64(burst)
		tb.tokens = float64(burst)
		tb.refilled = time.Now()
	}
	return tb
}

func (tb *tokenBucket) take() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.rate <= 0 || tb.burst <= 0 {
		return true
	}

	tb.refill(time.Now())
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

// refill credits tokens for the time elapsed since the last refill,
// capped at burst. Callers hold tb.mu.
func (tb *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.refilled).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens = min(tb.burst, tb.tokens+elapsed*tb.rate)
	tb.refilled = now
}
