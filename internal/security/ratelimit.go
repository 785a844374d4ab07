package security

import (
	"errors"
	"sync"
	"time"
)

var ErrRateLimited = errors.New("security: rate limit exceeded")

// RateLimiter implements a token bucket.
type RateLimiter struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	burst      int
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// NewRateLimiter creates a limiter allowing rate operations per second
// with bursts of up to burst. The bucket starts full.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return newRateLimiter(rate, burst, time.Now)
}

func newRateLimiter(rate float64, burst int, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastRefill: now(),
		now:        now,
	}
}

// Allow takes a token if one is available.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.tokens = min(r.tokens+now.Sub(r.lastRefill).Seconds()*r.rate, float64(r.burst))
	r.lastRefill = now

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// Reset refills the bucket.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = float64(r.burst)
	r.lastRefill = r.now()
}

// ConnectionLimiter caps concurrent connections overall and per key. The
// control socket keys peers by user id.
type ConnectionLimiter struct {
	mu        sync.Mutex
	current   int
	max       int
	perKey    map[string]int
	maxPerKey int
}

// NewConnectionLimiter creates a limiter. maxPerKey <= 0 disables the
// per-key cap.
func NewConnectionLimiter(max, maxPerKey int) *ConnectionLimiter {
	return &ConnectionLimiter{
		max:       max,
		maxPerKey: maxPerKey,
		perKey:    make(map[string]int),
	}
}

// Acquire takes a slot for key, reporting false when a limit is reached.
func (cl *ConnectionLimiter) Acquire(key string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.current >= cl.max {
		return false
	}
	if cl.maxPerKey > 0 && cl.perKey[key] >= cl.maxPerKey {
		return false
	}
	cl.current++
	cl.perKey[key]++
	return true
}

// Release gives a slot back.
func (cl *ConnectionLimiter) Release(key string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.current > 0 {
		cl.current--
	}
	if cl.perKey[key] > 0 {
		cl.perKey[key]--
		if cl.perKey[key] == 0 {
			delete(cl.perKey, key)
		}
	}
}

// Current returns the number of held slots.
func (cl *ConnectionLimiter) Current() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.current
}
