package auth

import (
	"sync"
	"time"
)

type bucket struct {
	tokens float64
	last   time.Time
}

/*
RateLimiter is a token-bucket limiter keyed by caller, used to throttle
handshake attempts per remote address. Each key refills at limit/interval
and holds at most limit tokens, so a burst up to the limit is allowed before
the steady rate applies.
*/
type RateLimiter struct {
	mu       sync.Mutex
	rate     float64
	capacity float64
	buckets  map[string]*bucket
}

func NewRateLimiter(limit int64, interval time.Duration) *RateLimiter {
	if limit <= 0 || interval <= 0 {
		panic("limit and interval must be positive")
	}

	return &RateLimiter{
		rate:     float64(limit) / interval.Seconds(),
		capacity: float64(limit),
		buckets:  make(map[string]*bucket),
	}
}

/*
Allow reports whether the caller identified by key may proceed, consuming a
token when it does. Unknown keys start with a full bucket.
*/
func (limiter *RateLimiter) Allow(key string) bool {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	now := time.Now()
	entry, ok := limiter.buckets[key]

	if !ok {
		entry = &bucket{tokens: limiter.capacity, last: now}
		limiter.buckets[key] = entry
	}

	elapsed := now.Sub(entry.last).Seconds()
	entry.last = now
	entry.tokens = min(limiter.capacity, entry.tokens+elapsed*limiter.rate)

	if entry.tokens < 1.0 {
		return false
	}

	entry.tokens--
	limiter.sweep(now)
	return true
}

// sweep drops buckets that have been idle long enough to refill completely.
// Callers hold the lock.
func (limiter *RateLimiter) sweep(now time.Time) {
	idle := time.Duration(limiter.capacity / limiter.rate * float64(time.Second))

	for key, entry := range limiter.buckets {
		if now.Sub(entry.last) > idle {
			delete(limiter.buckets, key)
		}
	}
}

// Len reports the number of tracked keys.
func (limiter *RateLimiter) Len() int {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	return len(limiter.buckets)
}
