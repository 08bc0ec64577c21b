// Package server wraps a token bucket rate limiter for per-connection
// throttling that protects the hub from abuse.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

type rateLimiter struct {
	limiter *rate.Limiter
}

// newRateLimiter allows bursts of capacity events, refilled in full over interval.
func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &rateLimiter{
		limiter: rate.NewLimiter(rate.Every(interval/time.Duration(capacity)), capacity),
	}
}

func (rl *rateLimiter) allow() bool {
	return rl.limiter.Allow()
}
