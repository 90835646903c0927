package ratelimit

import "sync"

// Limit describes a named bucket: burst capacity plus sustained rate.
type Limit struct {
	Capacity     float64
	RefillPerSec float64
}

// Registry holds process-wide named token buckets, one per guarded resource
// (llm, tools, memory). Buckets are created on first use.
type Registry struct {
	mu       sync.RWMutex
	defaults Limit
	buckets  map[string]*TokenBucket
	limits   map[string]Limit
}

// NewRegistry creates a registry whose unnamed resources fall back to the
// given default limit.
func NewRegistry(defaults Limit) *Registry {
	if defaults.Capacity <= 0 {
		defaults.Capacity = 10
	}
	if defaults.RefillPerSec <= 0 {
		defaults.RefillPerSec = 5
	}
	return &Registry{
		defaults: defaults,
		buckets:  make(map[string]*TokenBucket),
		limits:   make(map[string]Limit),
	}
}

// SetLimit configures the limit used when the named bucket is first created.
// It has no effect on a bucket that already exists.
func (r *Registry) SetLimit(name string, limit Limit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits[name] = limit
}

// Get returns the named bucket, creating it on first use.
func (r *Registry) Get(name string) *TokenBucket {
	r.mu.RLock()
	tb, ok := r.buckets[name]
	r.mu.RUnlock()
	if ok {
		return tb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tb, ok = r.buckets[name]; ok {
		return tb
	}
	limit, ok := r.limits[name]
	if !ok {
		limit = r.defaults
	}
	tb = NewTokenBucket(limit.Capacity, limit.RefillPerSec)
	r.buckets[name] = tb
	return tb
}
