package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
)

// CollectorConfig configures the metrics collector. A zero Addr means no
// scrape server; Registerer lets tests use a private registry instead of
// the process-global one.
type CollectorConfig struct {
	Enabled    bool
	Addr       string
	Registerer prometheus.Registerer
}

// Sizes is a point-in-time reading of the stores, observed lazily on
// every scrape.
type Sizes struct {
	CacheEntries  int64
	CacheBytes    int64
	Episodes      int64
	SemanticFacts int64
	Procedures    int64
	WorkingItems  int64
}

// Collector owns every instrument the process records into. A disabled
// collector is valid and all record methods become no-ops, so callers
// never need to guard.
type Collector struct {
	meter metric.Meter

	cacheLookups       metric.Int64Counter
	llmRequests        metric.Int64Counter
	llmLatency         metric.Float64Histogram
	llmTokensInput     metric.Int64Counter
	llmTokensOutput    metric.Int64Counter
	authEvents         metric.Int64Counter
	breakerTransitions metric.Int64Counter

	cacheEntries  metric.Int64ObservableGauge
	cacheBytes    metric.Int64ObservableGauge
	episodes      metric.Int64ObservableGauge
	semanticFacts metric.Int64ObservableGauge
	procedures    metric.Int64ObservableGauge
	workingItems  metric.Int64ObservableGauge

	gatherer prometheus.Gatherer
	server   *http.Server
	logger   logging.Logger
}

// NewCollector builds the collector and, when Addr is set, starts the
// Prometheus scrape server.
func NewCollector(config CollectorConfig, logger logging.Logger) (*Collector, error) {
	logger = logging.OrNop(logger)
	if !config.Enabled {
		return &Collector{logger: logger}, nil
	}

	var opts []otelprom.Option
	gatherer := prometheus.Gatherer(prometheus.DefaultGatherer)
	if config.Registerer != nil {
		opts = append(opts, otelprom.WithRegisterer(config.Registerer))
		if g, ok := config.Registerer.(prometheus.Gatherer); ok {
			gatherer = g
		}
	}
	exporter, err := otelprom.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter("codi")

	c := &Collector{meter: meter, gatherer: gatherer, logger: logger}

	c.cacheLookups, err = meter.Int64Counter(
		"codi.cache.lookups.total",
		metric.WithDescription("Cache lookups by tier; tier none is a miss"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache lookups counter: %w", err)
	}

	c.llmRequests, err = meter.Int64Counter(
		"codi.llm.requests.total",
		metric.WithDescription("LLM requests by model and status"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm requests counter: %w", err)
	}

	c.llmLatency, err = meter.Float64Histogram(
		"codi.llm.latency",
		metric.WithDescription("LLM request latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm latency histogram: %w", err)
	}

	c.llmTokensInput, err = meter.Int64Counter(
		"codi.llm.tokens.input",
		metric.WithDescription("Approximate input tokens sent to the LLM"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create input tokens counter: %w", err)
	}

	c.llmTokensOutput, err = meter.Int64Counter(
		"codi.llm.tokens.output",
		metric.WithDescription("Approximate output tokens received from the LLM"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create output tokens counter: %w", err)
	}

	c.authEvents, err = meter.Int64Counter(
		"codi.auth.events.total",
		metric.WithDescription("Authentication events by action and outcome"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create auth events counter: %w", err)
	}

	c.breakerTransitions, err = meter.Int64Counter(
		"codi.breaker.transitions.total",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create breaker transitions counter: %w", err)
	}

	if err := c.createSizeGauges(); err != nil {
		return nil, err
	}

	if config.Addr != "" {
		if err := c.StartServer(config.Addr); err != nil {
			return nil, fmt.Errorf("start metrics server: %w", err)
		}
	}
	return c, nil
}

func (c *Collector) createSizeGauges() error {
	var err error
	gauges := []struct {
		dst  *metric.Int64ObservableGauge
		name string
		desc string
	}{
		{&c.cacheEntries, "codi.cache.entries", "Live response cache entries"},
		{&c.cacheBytes, "codi.cache.bytes", "Response cache footprint in bytes"},
		{&c.episodes, "codi.memory.episodes", "Stored interaction episodes"},
		{&c.semanticFacts, "codi.memory.semantic", "Stored semantic facts"},
		{&c.procedures, "codi.memory.procedures", "Registered procedures"},
		{&c.workingItems, "codi.memory.working", "Items in working memory"},
	}
	for _, g := range gauges {
		*g.dst, err = c.meter.Int64ObservableGauge(g.name, metric.WithDescription(g.desc))
		if err != nil {
			return fmt.Errorf("create %s gauge: %w", g.name, err)
		}
	}
	return nil
}

// ObserveSizes registers snapshot as the source for the store size gauges.
// The snapshot runs on every scrape, so it should be cheap; the agent's
// Statistics call qualifies.
func (c *Collector) ObserveSizes(snapshot func(context.Context) Sizes) error {
	if c.cacheEntries == nil {
		return nil
	}
	_, err := c.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		s := snapshot(ctx)
		o.ObserveInt64(c.cacheEntries, s.CacheEntries)
		o.ObserveInt64(c.cacheBytes, s.CacheBytes)
		o.ObserveInt64(c.episodes, s.Episodes)
		o.ObserveInt64(c.semanticFacts, s.SemanticFacts)
		o.ObserveInt64(c.procedures, s.Procedures)
		o.ObserveInt64(c.workingItems, s.WorkingItems)
		return nil
	}, c.cacheEntries, c.cacheBytes, c.episodes, c.semanticFacts, c.procedures, c.workingItems)
	if err != nil {
		return fmt.Errorf("register size callback: %w", err)
	}
	return nil
}

// StartServer exposes /metrics on addr in a background goroutine.
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{}))

	c.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	c.logger.Info("metrics: serving /metrics on %s", addr)
	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the scrape server if one is running.
func (c *Collector) Shutdown(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordCacheLookup counts one cache lookup. Tier is the hit tier, or
// "none" for a miss.
func (c *Collector) RecordCacheLookup(ctx context.Context, tier string) {
	if c == nil || c.cacheLookups == nil {
		return
	}
	c.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordLLMRequest counts one generation round trip. Token counts are
// estimates; the backends do not report usage.
func (c *Collector) RecordLLMRequest(ctx context.Context, model, status string, latency time.Duration, inputTokens, outputTokens int) {
	if c == nil || c.llmRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("status", status),
	)
	modelAttr := metric.WithAttributes(attribute.String("model", model))

	c.llmRequests.Add(ctx, 1, attrs)
	c.llmLatency.Record(ctx, latency.Seconds(), attrs)
	c.llmTokensInput.Add(ctx, int64(inputTokens), modelAttr)
	c.llmTokensOutput.Add(ctx, int64(outputTokens), modelAttr)
}

// RecordAuthEvent counts one authentication event, for example action
// "login" outcome "lockout".
func (c *Collector) RecordAuthEvent(ctx context.Context, action, outcome string) {
	if c == nil || c.authEvents == nil {
		return
	}
	c.authEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

// RecordBreakerTransition counts one circuit state change. Wired to the
// breaker's OnStateChange hook, which carries no context.
func (c *Collector) RecordBreakerTransition(name, from, to string) {
	if c == nil || c.breakerTransitions == nil {
		return
	}
	c.breakerTransitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
