package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		m := mf.GetMetric()[0]
		if g := m.GetGauge(); g != nil {
			return g.GetValue()
		}
		if c := m.GetCounter(); c != nil {
			return c.GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestContextMetricsRecordAssembly(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewContextMetricsWithRegisterer(reg)

	m.RecordAssembly(120, 4, 2)

	if got := gaugeValue(t, reg, "codi_context_tokens"); got != 120 {
		t.Errorf("tokens = %v", got)
	}
	if got := gaugeValue(t, reg, "codi_context_history_entries"); got != 4 {
		t.Errorf("history entries = %v", got)
	}
	if got := gaugeValue(t, reg, "codi_context_memories_used"); got != 2 {
		t.Errorf("memories used = %v", got)
	}
	if got := gaugeValue(t, reg, "codi_context_assemblies_total"); got != 1 {
		t.Errorf("assemblies = %v", got)
	}
	if got := gaugeValue(t, reg, "codi_context_empty_total"); got != 0 {
		t.Errorf("empty = %v", got)
	}
}

func TestContextMetricsCountsEmptyBuilds(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewContextMetricsWithRegisterer(reg)

	m.RecordAssembly(80, 3, 1)
	m.RecordAssembly(0, 0, 0)

	if got := gaugeValue(t, reg, "codi_context_assemblies_total"); got != 2 {
		t.Errorf("assemblies = %v", got)
	}
	if got := gaugeValue(t, reg, "codi_context_empty_total"); got != 1 {
		t.Errorf("empty = %v", got)
	}
	// Gauges report the most recent build.
	if got := gaugeValue(t, reg, "codi_context_tokens"); got != 0 {
		t.Errorf("tokens = %v", got)
	}
}

func TestContextMetricsNilSafe(t *testing.T) {
	var m *ContextMetrics
	m.RecordAssembly(10, 1, 1)
}
