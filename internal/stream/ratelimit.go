// ratelimit.go implements token-bucket rate limiting for outbound requests.
//
// The service enforces per-category request limits; the buckets below refill
// continuously (rather than in window-sized bursts) so sustained callers
// smooth out instead of slamming into hard limits.
package stream

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by request category. Each outbound call
// waits on its bucket before hitting the wire.
type RateLimiter struct {
	Trade     *TokenBucket // trade requests
	Subscribe *TokenBucket // market data subscribe/unsubscribe
	Control   *TokenBucket // reconnect and other control requests
}

// NewRateLimiter creates buckets tuned to the service's published limits.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Trade:     NewTokenBucket(30, 5),
		Subscribe: NewTokenBucket(100, 10),
		Control:   NewTokenBucket(10, 1),
	}
}
