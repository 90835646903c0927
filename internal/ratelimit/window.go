package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow admits at most maxRequests calls in any trailing window. It
// keeps the timestamps of admitted calls and prunes expired ones on access.
type SlidingWindow struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	stamps      []time.Time
}

// NewSlidingWindow creates a limiter allowing maxRequests per window. Invalid
// values are clamped to 1 request and 1 second.
func NewSlidingWindow(maxRequests int, window time.Duration) *SlidingWindow {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &SlidingWindow{
		maxRequests: maxRequests,
		window:      window,
	}
}

// Allow records the call and reports whether it is within the limit. Denied
// calls are not recorded and do not extend the window.
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	sw.pruneLocked(now)
	if len(sw.stamps) >= sw.maxRequests {
		return false
	}
	sw.stamps = append(sw.stamps, now)
	return true
}

// Remaining returns how many more calls the current window admits.
func (sw *SlidingWindow) Remaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.pruneLocked(time.Now())
	return sw.maxRequests - len(sw.stamps)
}

func (sw *SlidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-sw.window)
	keep := 0
	for _, ts := range sw.stamps {
		if ts.After(cutoff) {
			sw.stamps[keep] = ts
			keep++
		}
	}
	sw.stamps = sw.stamps[:keep]
}

// KeyedWindow maintains one sliding window per key, for per-principal limits
// such as login attempts per username+ip. Idle keys are pruned so the map does
// not grow without bound.
type KeyedWindow struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	entries     map[string]*keyedEntry
	lastSweep   time.Time
}

type keyedEntry struct {
	win      *SlidingWindow
	lastSeen time.Time
}

// NewKeyedWindow creates a per-key limiter with the given per-window budget.
func NewKeyedWindow(maxRequests int, window time.Duration) *KeyedWindow {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &KeyedWindow{
		maxRequests: maxRequests,
		window:      window,
		entries:     make(map[string]*keyedEntry),
		lastSweep:   time.Now(),
	}
}

// Allow checks the limit for a single key.
func (kw *KeyedWindow) Allow(key string) bool {
	now := time.Now()

	kw.mu.Lock()
	e, ok := kw.entries[key]
	if !ok {
		e = &keyedEntry{win: NewSlidingWindow(kw.maxRequests, kw.window)}
		kw.entries[key] = e
	}
	e.lastSeen = now
	kw.sweepLocked(now)
	kw.mu.Unlock()

	return e.win.Allow()
}

// Len returns the number of tracked keys.
func (kw *KeyedWindow) Len() int {
	kw.mu.Lock()
	defer kw.mu.Unlock()
	return len(kw.entries)
}

// sweepLocked drops keys idle for more than two windows. Runs at most once
// per window so steady traffic does not pay the scan on every call.
func (kw *KeyedWindow) sweepLocked(now time.Time) {
	if now.Sub(kw.lastSweep) < kw.window {
		return
	}
	kw.lastSweep = now
	cutoff := now.Add(-2 * kw.window)
	for key, e := range kw.entries {
		if e.lastSeen.Before(cutoff) {
			delete(kw.entries, key)
		}
	}
}
