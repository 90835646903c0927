package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ContextMetrics tracks health of the prompt context assembly: how much
// of the token budget each query actually used and how often the
// assembled block came up empty.
type ContextMetrics struct {
	tokens         prometheus.Gauge
	historyEntries prometheus.Gauge
	memoriesUsed   prometheus.Gauge
	assemblies     prometheus.Counter
	emptyContexts  prometheus.Counter
}

var (
	defaultContextMetrics     *ContextMetrics
	defaultContextMetricsOnce sync.Once
)

// NewContextMetrics builds a ContextMetrics recorder on the default
// registry. Safe to call more than once; the instruments register once.
func NewContextMetrics() *ContextMetrics {
	defaultContextMetricsOnce.Do(func() {
		defaultContextMetrics = newContextMetrics(prometheus.DefaultRegisterer)
	})
	return defaultContextMetrics
}

// NewContextMetricsWithRegisterer lets tests provide a dedicated registry.
func NewContextMetricsWithRegisterer(reg prometheus.Registerer) *ContextMetrics {
	return newContextMetrics(reg)
}

func newContextMetrics(reg prometheus.Registerer) *ContextMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &ContextMetrics{
		tokens: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "codi",
			Subsystem: "context",
			Name:      "tokens",
			Help:      "Approximate prompt context tokens for the most recent query",
		}),
		historyEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "codi",
			Subsystem: "context",
			Name:      "history_entries",
			Help:      "Conversation turns included in the most recent context",
		}),
		memoriesUsed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "codi",
			Subsystem: "context",
			Name:      "memories_used",
			Help:      "Retrieved memories included in the most recent context",
		}),
		assemblies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "codi",
			Subsystem: "context",
			Name:      "assemblies_total",
			Help:      "Total context assemblies performed",
		}),
		emptyContexts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "codi",
			Subsystem: "context",
			Name:      "empty_total",
			Help:      "Assemblies that produced no context at all, budget too small or nothing stored",
		}),
	}
}

// RecordAssembly captures one context build: the tokens it consumed and
// how many history turns and memories made it in.
func (m *ContextMetrics) RecordAssembly(tokens, historyEntries, memoriesUsed int) {
	if m == nil {
		return
	}
	m.tokens.Set(float64(tokens))
	m.historyEntries.Set(float64(historyEntries))
	m.memoriesUsed.Set(float64(memoriesUsed))
	m.assemblies.Inc()
	if tokens == 0 {
		m.emptyContexts.Inc()
	}
}
