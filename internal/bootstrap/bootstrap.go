// Package bootstrap builds the full component graph from a loaded
// configuration. Both binaries and the admin CLI commands share it so a
// cache snapshot written by one process is readable by the next: same
// stores, same key derivation, same directory layout under the data dir.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/agent"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/auth"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/cag"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/config"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/embedding"
	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/health"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/infra/filestore"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/llm"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/memory"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/observability"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/secstore"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/vector"
)

// Version is stamped into health output, traces, and the CLI.
const Version = "0.1.0"

// Options selects which optional subsystems Build wires. Admin commands
// run with telemetry off; the server runs with it on.
type Options struct {
	Telemetry bool
}

// Runtime is the built component graph. Fields are never nil after a
// successful Build.
type Runtime struct {
	Config config.Config

	Secrets  *secstore.Store
	Embedder embedding.Embedder
	Vector   vector.Store
	Memory   *memory.Service
	Auth     *auth.Service
	Client   llm.Client
	Health   *llm.HealthRegistry
	Cache    *cag.Engine
	Agent    *agent.Agent
	Probes   *health.Registry

	Collector      *observability.Collector
	ContextMetrics *observability.ContextMetrics
	Tracer         *observability.TracerProvider
	ServerLogger   *observability.Logger
}

// Build wires every component in dependency order. It creates the data
// directory layout as a side effect and loads whatever state earlier runs
// persisted there.
func Build(ctx context.Context, cfg config.Config, opts Options) (*Runtime, error) {
	logging.SetDefaultLevel(logging.ParseLevel(cfg.LogLevel))
	bootLog := logging.NewComponentLogger("boot")

	sec, err := secstore.New(cfg.Security.EncryptionKey, logging.NewComponentLogger("secstore"))
	if err != nil {
		return nil, fmt.Errorf("secret store: %w", err)
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	store, err := vector.NewStore(ctx, vector.Config{
		Backend:        cfg.Vector.Backend,
		PersistPath:    filepath.Join(cfg.DataDir, "vector"),
		M:              cfg.ANN.M,
		EfConstruction: cfg.ANN.EfConstruction,
		EfSearch:       cfg.ANN.EfSearch,
		Collection:     cfg.Vector.Collection,
		DSN:            cfg.Vector.DSN,
		Table:          cfg.Vector.Table,
		Dimensions:     cfg.Embedding.Dimensions,
	}, embedder, sec, logging.NewComponentLogger("vector"))
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}

	mem, err := memory.New(memory.Config{
		Dir:         filepath.Join(cfg.DataDir, "memory"),
		PlaybookDir: filepath.Join(cfg.DataDir, "playbooks"),
	}, store, embedder, sec, logging.NewComponentLogger("memory"))
	if err != nil {
		return nil, fmt.Errorf("memory service: %w", err)
	}
	if err := mem.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("memory initialize: %w", err)
	}

	authSvc, err := auth.New(auth.Config{
		Dir:               filepath.Join(cfg.DataDir, "auth"),
		JWTSecret:         cfg.Security.JWTSecret,
		AccessTTL:         cfg.Auth.AccessTTL(),
		RefreshTTL:        cfg.Auth.RefreshTTL(),
		LockoutThreshold:  cfg.Auth.LockoutThreshold,
		LockoutDuration:   cfg.Auth.LockoutDuration(),
		LoginRatePerMin:   cfg.Limits.AuthPerMin,
		RefreshRatePerMin: cfg.Limits.RefreshPerMin,
	}, sec, logging.NewComponentLogger("auth"))
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}
	if err := authSvc.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("auth initialize: %w", err)
	}

	collector, err := observability.NewCollector(observability.CollectorConfig{
		Enabled: opts.Telemetry,
		Addr:    cfg.Server.MetricsAddr,
	}, logging.NewComponentLogger("metrics"))
	if err != nil {
		return nil, fmt.Errorf("metrics collector: %w", err)
	}

	tracer, err := observability.NewTracerProvider(observability.TracingConfig{
		Enabled:        opts.Telemetry && cfg.Tracing.Enabled,
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		ZipkinEndpoint: cfg.Tracing.ZipkinEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		ServiceName:    "codi",
		ServiceVersion: Version,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}

	providers := llm.NewHealthRegistry()
	client, err := buildClient(cfg, collector, providers)
	if err != nil {
		return nil, err
	}

	engine, err := cag.New(cag.Config{
		BaseTTL:            cfg.Cache.BaseTTL(),
		MaxTTL:             cfg.Cache.MaxTTL(),
		SimilarThreshold:   cfg.Cache.SimilarThreshold,
		EmbeddingThreshold: cfg.Cache.EmbeddingThreshold,
		MaxEntries:         cfg.Cache.MaxEntries,
		MaxBytes:           cfg.Cache.MaxBytes,
	}, client, embedder, sec, logging.NewComponentLogger("cag"))
	if err != nil {
		return nil, fmt.Errorf("response cache: %w", err)
	}

	ag, err := agent.New(agent.Config{}, authSvc, mem, engine, logging.NewComponentLogger("agent"))
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	r := &Runtime{
		Config:         cfg,
		Secrets:        sec,
		Embedder:       embedder,
		Vector:         store,
		Memory:         mem,
		Auth:           authSvc,
		Client:         client,
		Health:         providers,
		Cache:          engine,
		Agent:          ag,
		Probes:         buildProbes(cfg, sec, providers),
		Collector:      collector,
		ContextMetrics: observability.NewContextMetrics(),
		Tracer:         tracer,
		ServerLogger: observability.NewLogger(observability.LogConfig{
			Level:  cfg.LogLevel,
			Format: cfg.LogFormat,
		}),
	}

	if err := collector.ObserveSizes(r.sizes); err != nil {
		return nil, fmt.Errorf("size gauges: %w", err)
	}

	bootLog.Info("runtime ready (llm=%s, embedding=%s, users=%d)",
		cfg.LLM.Provider, cfg.Embedding.Provider, authSvc.UserCount())
	if authSvc.UserCount() == 0 {
		bootLog.Warn("no users exist yet; run `codi user create` before serving traffic")
	}
	return r, nil
}

// sizes snapshots the store gauges for the metrics scrape.
func (r *Runtime) sizes(context.Context) observability.Sizes {
	stats := r.Agent.Statistics()
	return observability.Sizes{
		CacheEntries:  int64(stats.Cache.Entries),
		CacheBytes:    stats.Cache.Bytes,
		Episodes:      int64(stats.Memory.EpisodeCount),
		SemanticFacts: int64(stats.Memory.SemanticCount),
		Procedures:    int64(stats.Memory.ProcedureCount),
		WorkingItems:  int64(stats.Memory.WorkingCount),
	}
}

// buildProbes registers the readiness probes. Encryption and the data dir
// gate readiness outright; provider trouble only degrades it because the
// cache keeps answering known queries while generation is down.
func buildProbes(cfg config.Config, sec *secstore.Store, providers *llm.HealthRegistry) *health.Registry {
	probes := health.NewRegistry(health.Config{}, logging.NewComponentLogger("health"))

	probes.Register("encryption", true, func(context.Context) error {
		if !sec.Available() {
			return errors.New("secret store has no key")
		}
		return nil
	})

	probes.Register("datadir", true, func(context.Context) error {
		probe := filepath.Join(cfg.DataDir, ".probe")
		if err := filestore.AtomicWrite(probe, []byte("ok"), 0o600); err != nil {
			return fmt.Errorf("data dir not writable: %w", err)
		}
		return os.Remove(probe)
	})

	probes.Register("llm", false, func(context.Context) error {
		snapshots := providers.GetAllHealth()
		if len(snapshots) == 0 {
			return nil
		}
		var down, impaired int
		for _, s := range snapshots {
			switch s.State {
			case llm.HealthStateDown:
				down++
				impaired++
			case llm.HealthStateDegraded:
				impaired++
			}
		}
		switch {
		case down == len(snapshots):
			return fmt.Errorf("all %d providers down", down)
		case impaired > 0:
			return errs.NewDegradedError(nil,
				fmt.Sprintf("%d of %d providers impaired", impaired, len(snapshots)), "")
		}
		return nil
	})

	return probes
}

// Close persists what should survive a restart and stops background work.
// It keeps going on errors so one failed flush cannot block the rest.
func (r *Runtime) Close(ctx context.Context) error {
	var errList []error
	r.Probes.Stop()
	r.Cache.Close()
	if err := r.Memory.Persist(ctx); err != nil {
		errList = append(errList, fmt.Errorf("persist memory: %w", err))
	}
	if err := r.Vector.Close(); err != nil {
		errList = append(errList, fmt.Errorf("close vector index: %w", err))
	}
	if err := r.Collector.Shutdown(ctx); err != nil {
		errList = append(errList, fmt.Errorf("stop collector: %w", err))
	}
	if err := r.Tracer.Shutdown(ctx); err != nil {
		errList = append(errList, fmt.Errorf("stop tracer: %w", err))
	}
	return errors.Join(errList...)
}

func buildEmbedder(cfg config.Config) (embedding.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		return embedding.NewOpenAI(embedding.Config{
			Model:      cfg.Embedding.Model,
			APIKey:     cfg.LLM.APIKey,
			Dimensions: cfg.Embedding.Dimensions,
		}, logging.NewComponentLogger("embedding"))
	case "local":
		return embedding.NewLocal(cfg.Embedding.Dimensions), nil
	default:
		return nil, errs.NewConfigError(fmt.Sprintf("unknown embedding provider %q", cfg.Embedding.Provider))
	}
}

// buildClient stacks the generation client the way requests traverse it:
// instrumentation outside, then resilience, then the raw backend.
func buildClient(cfg config.Config, collector *observability.Collector, health *llm.HealthRegistry) (llm.Client, error) {
	logger := logging.NewComponentLogger("llm")

	var base llm.Client
	switch cfg.LLM.Provider {
	case "openai":
		client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			Model:   cfg.LLM.Model,
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("llm client: %w", err)
		}
		base = client
	case "mock":
		base = llm.NewMockClient("")
	default:
		return nil, errs.NewConfigError(fmt.Sprintf("unknown llm provider %q", cfg.LLM.Provider))
	}

	breaker := errs.CircuitBreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		HalfOpenProbes:   cfg.Breaker.HalfOpenProbes,
		ResetTimeout:     cfg.Breaker.ResetTimeout(),
		OnStateChange: func(from, to errs.CircuitState, name string) {
			collector.RecordBreakerTransition(name, from.String(), to.String())
		},
	}
	resilient := llm.NewResilientClient(base, llm.ResilientConfig{
		Retry:      errs.DefaultRetryConfig(),
		Breaker:    breaker,
		RatePerMin: int(cfg.Limits.LLMPerSec * 60),
	}, health, logger)

	return llm.NewInstrumented(resilient, collector), nil
}
