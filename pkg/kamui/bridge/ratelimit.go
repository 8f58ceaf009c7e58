package bridge

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter provides per-user rate limiting.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*userLimiter
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per user with the given burst.
// A perMinute of zero or less disables limiting.
func NewRateLimiter(perMinute float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	return &RateLimiter{
		limiters: make(map[string]*userLimiter),
		rate:     limit,
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether key may make a request now.
func (r *RateLimiter) Allow(key string) bool {
	if r == nil || r.rate == rate.Inf {
		return true
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	ul, ok := r.limiters[key]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(r.rate, r.burst)}
		r.limiters[key] = ul
	}
	ul.lastSeen = now
	return ul.limiter.AllowN(now, 1)
}

// Cleanup drops limiters idle for longer than maxAge.
func (r *RateLimiter) Cleanup(maxAge time.Duration) int {
	if r == nil {
		return 0
	}
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int
	for key, ul := range r.limiters {
		if ul.lastSeen.Before(cutoff) {
			delete(r.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked users.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}
