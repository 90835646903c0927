// Package health tracks named component probes and aggregates them into an
// overall status for readiness and liveness reporting.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	coreerrors "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
)

// Status is the health level of a probe or the whole process.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ProbeFunc checks one component. A nil return means healthy, a DegradedError
// means degraded, any other error means unhealthy. The context carries the
// probe deadline.
type ProbeFunc func(ctx context.Context) error

// Result is a point-in-time snapshot of one probe.
type Result struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Critical  bool          `json:"critical"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Report aggregates all probe results into an overall status.
type Report struct {
	Status    Status    `json:"status"`
	Probes    []Result  `json:"probes"`
	CheckedAt time.Time `json:"checked_at"`
}

// Config controls probe execution.
type Config struct {
	ProbeTimeout time.Duration // per-probe deadline (default: 2s)
	Interval     time.Duration // scheduled run period (default: 30s)
}

func (c Config) withDefaults() Config {
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	return c
}

type probeEntry struct {
	name     string
	critical bool
	fn       ProbeFunc
}

// Registry holds named probes and their most recent results. Probes marked
// critical pull the overall status to unhealthy when they fail; non-critical
// failures only degrade it.
type Registry struct {
	mu      sync.RWMutex
	config  Config
	logger  logging.Logger
	entries map[string]*probeEntry
	last    Report

	runOnce sync.Once
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRegistry creates an empty probe registry.
func NewRegistry(config Config, logger logging.Logger) *Registry {
	return &Registry{
		config:  config.withDefaults(),
		logger:  logging.OrNop(logger),
		entries: make(map[string]*probeEntry),
		last:    Report{Status: StatusHealthy, CheckedAt: time.Now()},
	}
}

// Register adds or replaces a probe. Critical probes gate overall health.
func (r *Registry) Register(name string, critical bool, fn ProbeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = &probeEntry{name: name, critical: critical, fn: fn}
}

// RunAll executes every registered probe concurrently, each under its own
// deadline, and returns the aggregated report. The report also becomes the
// new snapshot.
func (r *Registry) RunAll(ctx context.Context) Report {
	r.mu.RLock()
	probes := make([]*probeEntry, 0, len(r.entries))
	for _, e := range r.entries {
		probes = append(probes, e)
	}
	timeout := r.config.ProbeTimeout
	r.mu.RUnlock()

	results := make([]Result, len(probes))
	var wg sync.WaitGroup
	for i, e := range probes {
		wg.Add(1)
		go func(i int, e *probeEntry) {
			defer wg.Done()
			results[i] = r.runProbe(ctx, e, timeout)
		}(i, e)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	report := Report{
		Status:    aggregate(results),
		Probes:    results,
		CheckedAt: time.Now(),
	}

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	return report
}

func (r *Registry) runProbe(ctx context.Context, e *probeEntry, timeout time.Duration) Result {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := safeProbe(probeCtx, e.fn)
	latency := time.Since(start)

	res := Result{
		Name:      e.name,
		Status:    StatusHealthy,
		Critical:  e.critical,
		Latency:   latency,
		CheckedAt: start,
	}
	switch {
	case err == nil:
	case coreerrors.IsDegraded(err):
		res.Status = StatusDegraded
		res.Message = err.Error()
	default:
		res.Status = StatusUnhealthy
		res.Message = err.Error()
	}
	if res.Status != StatusHealthy {
		r.logger.Warn("health: probe %s reported %s: %s", e.name, res.Status, res.Message)
	}
	return res
}

// safeProbe converts a probe panic into an unhealthy result instead of
// killing the scheduler goroutine.
func safeProbe(ctx context.Context, fn ProbeFunc) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("probe panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// aggregate derives the overall status. Unhealthy requires a critical probe
// failure; non-critical failures and any degraded probe yield degraded.
func aggregate(results []Result) Status {
	overall := StatusHealthy
	for _, res := range results {
		switch res.Status {
		case StatusUnhealthy:
			if res.Critical {
				return StatusUnhealthy
			}
			overall = StatusDegraded
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// Snapshot returns the most recent report without re-running probes.
func (r *Registry) Snapshot() Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Start launches the scheduled probe loop. It runs all probes immediately,
// then on every interval tick until Stop is called. Start is idempotent.
func (r *Registry) Start(ctx context.Context) {
	r.runOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		r.mu.Lock()
		r.cancel = cancel
		r.done = done
		r.mu.Unlock()

		go func() {
			defer close(done)
			r.RunAll(loopCtx)

			ticker := time.NewTicker(r.config.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-loopCtx.Done():
					return
				case <-ticker.C:
					r.RunAll(loopCtx)
				}
			}
		}()
	})
}

// Stop terminates the scheduled loop and waits for it to exit.
func (r *Registry) Stop() {
	r.mu.RLock()
	cancel, done := r.cancel, r.done
	r.mu.RUnlock()
	if cancel != nil {
		cancel()
		<-done
	}
}
