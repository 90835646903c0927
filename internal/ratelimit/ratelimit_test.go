package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTokenBucketConsumeWithinCapacity(t *testing.T) {
	tb := NewTokenBucket(5, 1)
	for i := 0; i < 5; i++ {
		if !tb.Consume(1) {
			t.Fatalf("consume %d should succeed from a full bucket", i+1)
		}
	}
	if tb.Consume(1) {
		t.Fatal("bucket should be empty")
	}
}

func TestTokenBucketRefills(t *testing.T) {
	tb := NewTokenBucket(2, 100) // 100 tokens/sec
	if !tb.Consume(2) {
		t.Fatal("initial consume failed")
	}
	if tb.Consume(1) {
		t.Fatal("expected empty bucket")
	}
	time.Sleep(50 * time.Millisecond)
	if !tb.Consume(1) {
		t.Fatal("expected refill after 50ms at 100 tokens/sec")
	}
}

func TestTokenBucketCapsAtCapacity(t *testing.T) {
	tb := NewTokenBucket(3, 1000)
	time.Sleep(20 * time.Millisecond)
	if got := tb.Available(); got > 3 {
		t.Fatalf("tokens %v exceed capacity 3", got)
	}
}

func TestTokenBucketWait(t *testing.T) {
	tb := NewTokenBucket(1, 50)
	if !tb.Consume(1) {
		t.Fatal("initial consume failed")
	}

	start := time.Now()
	if err := tb.Wait(context.Background(), 1); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("Wait returned after %v, expected to block for the refill", elapsed)
	}
}

func TestTokenBucketWaitRespectsContext(t *testing.T) {
	tb := NewTokenBucket(1, 0.1) // one token per 10s
	tb.Consume(1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := tb.Wait(ctx, 1)
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
}

func TestTokenBucketWaitRejectsOversizedRequest(t *testing.T) {
	tb := NewTokenBucket(2, 1)
	err := tb.Wait(context.Background(), 3)
	if err == nil {
		t.Fatal("Wait for more than capacity must fail immediately")
	}
}

// Admission over a window T is bounded by capacity + rate*T.
func TestTokenBucketAdmissionBound(t *testing.T) {
	const (
		capacity = 10.0
		rate     = 100.0
	)
	tb := NewTokenBucket(capacity, rate)

	var accepted int64
	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Since(start) < 200*time.Millisecond {
				if tb.Consume(1) {
					atomic.AddInt64(&accepted, 1)
				}
			}
		}()
	}
	wg.Wait()

	elapsed := time.Since(start).Seconds()
	bound := capacity + rate*elapsed + 1 // +1 tolerance for timing jitter
	if float64(accepted) > bound {
		t.Fatalf("accepted %d calls, bound is %.1f over %.3fs", accepted, bound, elapsed)
	}
}

func TestSlidingWindowLimits(t *testing.T) {
	sw := NewSlidingWindow(3, 100*time.Millisecond)
	for i := 0; i < 3; i++ {
		if !sw.Allow() {
			t.Fatalf("call %d should be admitted", i+1)
		}
	}
	if sw.Allow() {
		t.Fatal("4th call within the window should be denied")
	}

	time.Sleep(120 * time.Millisecond)
	if !sw.Allow() {
		t.Fatal("call after window expiry should be admitted")
	}
}

func TestSlidingWindowDeniedCallsNotRecorded(t *testing.T) {
	sw := NewSlidingWindow(1, 80*time.Millisecond)
	if !sw.Allow() {
		t.Fatal("first call should pass")
	}
	// Hammering while limited must not extend the window.
	for i := 0; i < 5; i++ {
		sw.Allow()
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(80 * time.Millisecond)
	if !sw.Allow() {
		t.Fatal("window should have expired despite denied attempts")
	}
}

func TestSlidingWindowConcurrent(t *testing.T) {
	sw := NewSlidingWindow(50, time.Second)

	var admitted int64
	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if sw.Allow() {
					atomic.AddInt64(&admitted, 1)
				}
			}
		}()
	}
	wg.Wait()

	if admitted != 50 {
		t.Fatalf("admitted %d calls, want exactly 50", admitted)
	}
}

func TestKeyedWindowIsolatesKeys(t *testing.T) {
	kw := NewKeyedWindow(2, time.Second)

	if !kw.Allow("alice|10.0.0.1") || !kw.Allow("alice|10.0.0.1") {
		t.Fatal("alice should get a full window")
	}
	if kw.Allow("alice|10.0.0.1") {
		t.Fatal("alice exceeded the window")
	}
	if !kw.Allow("bob|10.0.0.2") {
		t.Fatal("bob must not be affected by alice's limit")
	}
}

func TestKeyedWindowSweepsIdleKeys(t *testing.T) {
	kw := NewKeyedWindow(5, 20*time.Millisecond)
	for i := 0; i < 10; i++ {
		kw.Allow("session-" + string(rune('a'+i)))
	}
	if kw.Len() == 0 {
		t.Fatal("expected tracked keys")
	}

	time.Sleep(60 * time.Millisecond)
	kw.Allow("fresh")
	if kw.Len() > 2 {
		t.Fatalf("idle keys not swept, still tracking %d", kw.Len())
	}
}

func TestRegistryReturnsSameBucket(t *testing.T) {
	r := NewRegistry(Limit{Capacity: 4, RefillPerSec: 2})
	a := r.Get("llm")
	b := r.Get("llm")
	if a != b {
		t.Fatal("registry must reuse buckets per name")
	}
}

func TestRegistryPerResourceLimits(t *testing.T) {
	r := NewRegistry(Limit{Capacity: 100, RefillPerSec: 10})
	r.SetLimit("tools", Limit{Capacity: 1, RefillPerSec: 0.1})

	tb := r.Get("tools")
	if !tb.Consume(1) {
		t.Fatal("first tool call should pass")
	}
	if tb.Consume(1) {
		t.Fatal("tools bucket has capacity 1")
	}
	if !r.Get("memory").Consume(50) {
		t.Fatal("memory falls back to default limit")
	}
}
