package llm

import (
	"sort"
	"sync"
	"time"

	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
)

// HealthState summarizes an endpoint's usability.
type HealthState string

const (
	HealthStateHealthy  HealthState = "healthy"
	HealthStateDegraded HealthState = "degraded" // circuit half-open or elevated error rate
	HealthStateDown     HealthState = "down"     // circuit open
)

// LatencyStats holds percentile and average latency over the sample window.
type LatencyStats struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	Avg time.Duration `json:"avg"`
}

// ProviderHealth is a point-in-time snapshot of one endpoint.
type ProviderHealth struct {
	Name         string       `json:"name"`
	State        HealthState  `json:"state"`
	LastError    string       `json:"lastError,omitempty"`
	FailureCount int          `json:"failureCount"`
	LastChecked  time.Time    `json:"lastChecked"`
	Latency      LatencyStats `json:"latency"`
}

const (
	latencyWindowSize = 100
	outcomeWindowSize = 100
	errorRateHealthy  = 0.05
	errorRateDegraded = 0.20
)

type healthEntry struct {
	name    string
	breaker *errs.CircuitBreaker

	latencies [latencyWindowSize]time.Duration
	latCount  int
	latIdx    int

	outcomes     [outcomeWindowSize]bool // true = error
	outCount     int
	outIdx       int
	lastError    string
	failureCount int
}

// HealthRegistry tracks endpoint health from breaker state plus rolling
// latency and error-rate windows. Safe for concurrent use.
type HealthRegistry struct {
	mu      sync.RWMutex
	entries map[string]*healthEntry
}

func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{entries: make(map[string]*healthEntry)}
}

// Register associates a breaker with an endpoint name. Re-registering
// updates the breaker reference and keeps accumulated samples.
func (hr *HealthRegistry) Register(name string, breaker *errs.CircuitBreaker) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	e := hr.getOrCreate(name)
	e.breaker = breaker
}

// RecordLatency records one successful call.
func (hr *HealthRegistry) RecordLatency(name string, d time.Duration) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	e := hr.getOrCreate(name)
	e.latencies[e.latIdx] = d
	e.latIdx = (e.latIdx + 1) % latencyWindowSize
	if e.latCount < latencyWindowSize {
		e.latCount++
	}
	hr.recordOutcome(e, false)
}

// RecordError records one failed call.
func (hr *HealthRegistry) RecordError(name string, err error) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	e := hr.getOrCreate(name)
	e.failureCount++
	if err != nil {
		e.lastError = err.Error()
	}
	hr.recordOutcome(e, true)
}

func (hr *HealthRegistry) recordOutcome(e *healthEntry, failed bool) {
	e.outcomes[e.outIdx] = failed
	e.outIdx = (e.outIdx + 1) % outcomeWindowSize
	if e.outCount < outcomeWindowSize {
		e.outCount++
	}
}

// GetHealth returns a snapshot for one endpoint. Unknown names read as
// healthy with no samples.
func (hr *HealthRegistry) GetHealth(name string) ProviderHealth {
	hr.mu.RLock()
	defer hr.mu.RUnlock()

	e, ok := hr.entries[name]
	if !ok {
		return ProviderHealth{Name: name, State: HealthStateHealthy, LastChecked: time.Now()}
	}
	return hr.buildHealth(e)
}

// GetAllHealth returns snapshots for every endpoint, sorted by name.
func (hr *HealthRegistry) GetAllHealth() []ProviderHealth {
	hr.mu.RLock()
	defer hr.mu.RUnlock()

	result := make([]ProviderHealth, 0, len(hr.entries))
	for _, e := range hr.entries {
		result = append(result, hr.buildHealth(e))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (hr *HealthRegistry) buildHealth(e *healthEntry) ProviderHealth {
	return ProviderHealth{
		Name:         e.name,
		State:        hr.deriveState(e),
		LastError:    e.lastError,
		FailureCount: e.failureCount,
		LastChecked:  time.Now(),
		Latency:      hr.computeLatency(e),
	}
}

// deriveState prefers the breaker's verdict; without a breaker the rolling
// error rate decides.
func (hr *HealthRegistry) deriveState(e *healthEntry) HealthState {
	if e.breaker != nil {
		switch e.breaker.State() {
		case errs.StateClosed:
			return HealthStateHealthy
		case errs.StateHalfOpen:
			return HealthStateDegraded
		case errs.StateOpen:
			return HealthStateDown
		}
	}

	if e.outCount == 0 {
		return HealthStateHealthy
	}
	failed := 0
	for i := 0; i < e.outCount; i++ {
		if e.outcomes[i] {
			failed++
		}
	}
	rate := float64(failed) / float64(e.outCount)
	switch {
	case rate > errorRateDegraded:
		return HealthStateDown
	case rate >= errorRateHealthy:
		return HealthStateDegraded
	default:
		return HealthStateHealthy
	}
}

func (hr *HealthRegistry) computeLatency(e *healthEntry) LatencyStats {
	if e.latCount == 0 {
		return LatencyStats{}
	}

	buf := make([]time.Duration, e.latCount)
	copy(buf, e.latencies[:e.latCount])
	sort.Slice(buf, func(i, j int) bool { return buf[i] < buf[j] })

	var sum time.Duration
	for _, d := range buf {
		sum += d
	}
	return LatencyStats{
		P50: percentile(buf, 0.50),
		P95: percentile(buf, 0.95),
		Avg: sum / time.Duration(len(buf)),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// getOrCreate returns the entry for name. Caller holds the write lock.
func (hr *HealthRegistry) getOrCreate(name string) *healthEntry {
	if e, ok := hr.entries[name]; ok {
		return e
	}
	e := &healthEntry{name: name}
	hr.entries[name] = e
	return e
}
