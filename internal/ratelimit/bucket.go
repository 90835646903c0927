// Package ratelimit provides token bucket and sliding window rate limiters
// used to bound LLM, tool, and memory operation throughput.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TokenBucket is a continuously refilling rate limiter. Capacity bounds the
// burst size; refill happens lazily on access at the configured rate.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucket creates a bucket that starts full. Capacity and rate must be
// positive; invalid values are clamped to 1.
func NewTokenBucket(capacity, refillPerSec float64) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillPerSec <= 0 {
		refillPerSec = 1
	}
	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillPerSec,
		tokens:     capacity,
		lastRefill: time.Now(),
	}
}

// refillLocked credits tokens for the time elapsed since the last refill.
// Callers must hold mu.
func (tb *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// Consume deducts n tokens if available and reports whether it did. It never
// blocks.
func (tb *TokenBucket) Consume(n float64) bool {
	if n <= 0 {
		return true
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked(time.Now())
	if tb.tokens < n {
		return false
	}
	tb.tokens -= n
	return true
}

// Wait blocks until n tokens can be consumed or the context is cancelled.
// Requests larger than the bucket capacity fail immediately since they could
// never be satisfied.
func (tb *TokenBucket) Wait(ctx context.Context, n float64) error {
	if n <= 0 {
		return nil
	}
	if n > tb.capacity {
		return fmt.Errorf("ratelimit: requested %.2f tokens exceeds bucket capacity %.2f", n, tb.capacity)
	}

	for {
		tb.mu.Lock()
		now := time.Now()
		tb.refillLocked(now)
		if tb.tokens >= n {
			tb.tokens -= n
			tb.mu.Unlock()
			return nil
		}
		deficit := n - tb.tokens
		tb.mu.Unlock()

		wait := time.Duration(deficit / tb.refillRate * float64(time.Second))
		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Available returns the current token count after refill.
func (tb *TokenBucket) Available() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked(time.Now())
	return tb.tokens
}
