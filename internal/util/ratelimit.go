package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket with capacity one, refilled at a fixed
// per-minute rate. It smooths API calls rather than allowing bursts.
type RateLimiter struct {
	mu    sync.Mutex
	rate  float64 // tokens per second
	avail float64
	last  time.Time
}

// NewRateLimiter allows perMinute acquisitions per minute. The first call
// to Wait never blocks.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		rate:  float64(perMinute) / 60.0,
		avail: 1,
		last:  time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		rl.avail += now.Sub(rl.last).Seconds() * rl.rate
		if rl.avail > 1 {
			rl.avail = 1
		}
		rl.last = now

		if rl.avail >= 1 {
			rl.avail--
			rl.mu.Unlock()
			return nil
		}
		// Sleep just long enough for the bucket to refill.
		wait := time.Duration((1 - rl.avail) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
