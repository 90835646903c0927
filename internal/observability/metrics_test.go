package observability

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestDisabledCollectorIsInert(t *testing.T) {
	c, err := NewCollector(CollectorConfig{}, nil)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	ctx := context.Background()
	c.RecordCacheLookup(ctx, "exact")
	c.RecordLLMRequest(ctx, "gpt-4o-mini", "ok", time.Second, 10, 20)
	c.RecordAuthEvent(ctx, "login", "success")
	c.RecordBreakerTransition("openai", "closed", "open")
	if err := c.ObserveSizes(func(context.Context) Sizes { return Sizes{} }); err != nil {
		t.Fatalf("ObserveSizes: %v", err)
	}
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestCollectorExportsInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(CollectorConfig{Enabled: true, Registerer: reg}, nil)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	ctx := context.Background()
	c.RecordCacheLookup(ctx, "exact")
	c.RecordCacheLookup(ctx, "none")
	c.RecordLLMRequest(ctx, "gpt-4o-mini", "ok", 250*time.Millisecond, 12, 40)
	c.RecordAuthEvent(ctx, "login", "denied")
	c.RecordBreakerTransition("openai", "closed", "open")

	snapshotCalls := 0
	err = c.ObserveSizes(func(context.Context) Sizes {
		snapshotCalls++
		return Sizes{CacheEntries: 7, Episodes: 3}
	})
	if err != nil {
		t.Fatalf("ObserveSizes: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if snapshotCalls == 0 {
		t.Error("size snapshot never ran during a scrape")
	}

	want := []string{
		"codi_cache_lookups",
		"codi_llm_requests",
		"codi_llm_latency",
		"codi_auth_events",
		"codi_breaker_transitions",
		"codi_cache_entries",
		"codi_memory_episodes",
	}
	for _, name := range want {
		found := false
		for _, mf := range families {
			if strings.Contains(mf.GetName(), name) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no exported family matches %q", name)
		}
	}
}

func TestCollectorNilReceiverSafe(t *testing.T) {
	var c *Collector
	c.RecordCacheLookup(context.Background(), "exact")
	c.RecordAuthEvent(context.Background(), "login", "success")
	c.RecordBreakerTransition("openai", "open", "half-open")
}
