package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces calls to external collaborators with one token bucket per
// key (provider name). A non-positive rps disables pacing.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64 // Requests per second
	burst    int     // Burst capacity
}

// NewLimiter creates a new rate limiter with the specified RPS and burst capacity
func NewLimiter(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

// Enabled reports whether calls are paced at all.
func (l *Limiter) Enabled() bool {
	return l != nil && l.rps > 0
}

// getLimiter returns or creates the bucket for key
func (l *Limiter) getLimiter(key string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[key]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[key] = limiter
	return limiter
}

// Allow reports whether a call for key may proceed now
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}
	return l.getLimiter(key).Allow()
}

// Wait blocks until a call for key is allowed or ctx is done
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if !l.Enabled() {
		return ctx.Err()
	}
	return l.getLimiter(key).Wait(ctx)
}

// Stats returns the state of every bucket
func (l *Limiter) Stats() map[string]LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]LimiterStats, len(l.limiters))
	for key, limiter := range l.limiters {
		stats[key] = LimiterStats{
			Key:             key,
			RPS:             float64(limiter.Limit()),
			Burst:           limiter.Burst(),
			TokensAvailable: limiter.Tokens(),
		}
	}
	return stats
}

// Reset clears all buckets
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.limiters = make(map[string]*rate.Limiter)
}

// LimiterStats represents statistics for a single bucket
type LimiterStats struct {
	Key             string  `json:"key"`
	RPS             float64 `json:"rps"`
	Burst           int     `json:"burst"`
	TokensAvailable float64 `json:"tokens_available"`
}

// IsThrottled returns true if the next call would have to wait
func (s LimiterStats) IsThrottled() bool {
	return s.TokensAvailable < 1
}

// Every converts an interval into a per-second rate.
func Every(interval time.Duration) float64 {
	if interval <= 0 {
		return 0
	}
	return float64(time.Second) / float64(interval)
}
