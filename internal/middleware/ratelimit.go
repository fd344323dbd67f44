package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// InMemoryRateLimiter counts requests per key (client IP) over a sliding
// window. State lives in process memory; restarting the server resets it.
type InMemoryRateLimiter struct {
	mu     sync.Mutex
	seen   map[string][]time.Time
	limit  int
	window time.Duration
}

func NewInMemoryRateLimiter(limit int, window time.Duration) *InMemoryRateLimiter {
	r := &InMemoryRateLimiter{
		seen:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
	go r.sweep()
	return r
}

// prune drops timestamps older than the window. Caller holds the lock.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (r *InMemoryRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	times := prune(r.seen[key], now.Add(-r.window))
	if len(times) >= r.limit {
		r.seen[key] = times
		return false
	}
	r.seen[key] = append(times, now)
	return true
}

// sweep evicts idle keys so one-off clients do not accumulate forever.
func (r *InMemoryRateLimiter) sweep() {
	tick := time.NewTicker(time.Minute)
	for range tick.C {
		r.mu.Lock()
		cutoff := time.Now().Add(-r.window)
		for k, times := range r.seen {
			kept := prune(times, cutoff)
			if len(kept) == 0 {
				delete(r.seen, k)
			} else {
				r.seen[k] = kept
			}
		}
		r.mu.Unlock()
	}
}

// RateLimit rejects requests over the limiter's budget with 429.
func RateLimit(limiter *InMemoryRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
