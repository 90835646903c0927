// Package config loads the process configuration: defaults first, then a
// JSON file, then environment variables, then caller overrides, with
// per-field provenance kept for the status surfaces. Validation failures
// are fatal at startup; a process with a bad key set must not come up
// half-working.
package config

import (
	"fmt"
	"strings"
	"time"

	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
)

// SecurityConfig holds the two process-wide secrets. Both are required.
type SecurityConfig struct {
	EncryptionKey string `json:"encryptionKey"`
	JWTSecret     string `json:"jwtSecret"`
}

// AuthConfig tunes session lifetimes and the login lockout.
type AuthConfig struct {
	AccessTTLSec       int `json:"accessTtlSec"`
	RefreshTTLSec      int `json:"refreshTtlSec"`
	LockoutThreshold   int `json:"lockoutThreshold"`
	LockoutDurationSec int `json:"lockoutDurationSec"`
}

// AccessTTL returns the access token lifetime as a duration.
func (a AuthConfig) AccessTTL() time.Duration { return time.Duration(a.AccessTTLSec) * time.Second }

// RefreshTTL returns the refresh token lifetime as a duration.
func (a AuthConfig) RefreshTTL() time.Duration { return time.Duration(a.RefreshTTLSec) * time.Second }

// LockoutDuration returns how long a locked account stays locked.
func (a AuthConfig) LockoutDuration() time.Duration {
	return time.Duration(a.LockoutDurationSec) * time.Second
}

// CacheConfig tunes the response cache tiers and its budgets.
type CacheConfig struct {
	BaseTTLSec         int     `json:"baseTtlSec"`
	MaxTTLSec          int     `json:"maxTtlSec"`
	SimilarThreshold   float64 `json:"similarThreshold"`
	EmbeddingThreshold float64 `json:"embeddingThreshold"`
	MaxEntries         int     `json:"maxEntries"`
	MaxBytes           int64   `json:"maxBytes"`
}

// BaseTTL returns the initial entry lifetime as a duration.
func (c CacheConfig) BaseTTL() time.Duration { return time.Duration(c.BaseTTLSec) * time.Second }

// MaxTTL returns the lifetime cap as a duration.
func (c CacheConfig) MaxTTL() time.Duration { return time.Duration(c.MaxTTLSec) * time.Second }

// ANNConfig tunes the HNSW graph.
type ANNConfig struct {
	M              int `json:"m"`
	EfConstruction int `json:"efConstruction"`
	EfSearch       int `json:"efSearch"`
}

// VectorConfig selects the vector store backend. The ann section tunes
// the default hnsw backend; the fields here configure the external ones.
type VectorConfig struct {
	Backend    string `json:"backend"`
	Collection string `json:"collection,omitempty"`
	DSN        string `json:"dsn,omitempty"`
	Table      string `json:"table,omitempty"`
}

// LimitsConfig sets the outbound and auth rate limits.
type LimitsConfig struct {
	LLMPerSec     float64 `json:"llmPerSec"`
	AuthPerMin    int     `json:"authPerMin"`
	RefreshPerMin int     `json:"refreshPerMin"`
}

// BreakerConfig tunes the circuit breaker in front of the LLM.
type BreakerConfig struct {
	FailureThreshold int `json:"failureThreshold"`
	ResetTimeoutMs   int `json:"resetTimeoutMs"`
	HalfOpenProbes   int `json:"halfOpenProbes"`
}

// ResetTimeout returns the open-state hold time as a duration.
func (b BreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(b.ResetTimeoutMs) * time.Millisecond
}

// LLMConfig selects the generation backend. Provider "mock" answers
// offline; "openai" speaks the OpenAI-compatible chat API.
type LLMConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"apiKey,omitempty"`
	BaseURL  string `json:"baseUrl,omitempty"`
}

// EmbeddingConfig selects the embedding backend. Provider "local" is the
// deterministic offline embedder; "openai" calls the embeddings API.
type EmbeddingConfig struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

// ServerConfig holds the listen addresses.
type ServerConfig struct {
	Addr        string `json:"addr"`
	MetricsAddr string `json:"metricsAddr"`
}

// TracingConfig enables span export. Disabled by default; the exporter
// endpoints only matter when Enabled is set.
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	Exporter       string  `json:"exporter"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	ZipkinEndpoint string  `json:"zipkinEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
}

// Config is the full process configuration.
type Config struct {
	DataDir   string `json:"dataDir"`
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"`

	Security  SecurityConfig  `json:"security"`
	Auth      AuthConfig      `json:"auth"`
	Cache     CacheConfig     `json:"cache"`
	ANN       ANNConfig       `json:"ann"`
	Vector    VectorConfig    `json:"vector"`
	Limits    LimitsConfig    `json:"limits"`
	Breaker   BreakerConfig   `json:"breaker"`
	LLM       LLMConfig       `json:"llm"`
	Embedding EmbeddingConfig `json:"embedding"`
	Server    ServerConfig    `json:"server"`
	Tracing   TracingConfig   `json:"tracing"`
}

// defaultConfig mirrors the component defaults so a value left alone here
// and a value left alone there agree.
func defaultConfig() Config {
	return Config{
		DataDir:   "data",
		LogLevel:  "info",
		LogFormat: "json",
		Auth: AuthConfig{
			AccessTTLSec:       900,
			RefreshTTLSec:      2592000,
			LockoutThreshold:   5,
			LockoutDurationSec: 900,
		},
		Cache: CacheConfig{
			BaseTTLSec:         3600,
			MaxTTLSec:          86400,
			SimilarThreshold:   0.95,
			EmbeddingThreshold: 0.85,
			MaxEntries:         10000,
			MaxBytes:           256 << 20,
		},
		ANN: ANNConfig{
			M:              16,
			EfConstruction: 200,
			EfSearch:       50,
		},
		Vector: VectorConfig{
			Backend: "hnsw",
		},
		Limits: LimitsConfig{
			LLMPerSec:     2,
			AuthPerMin:    5,
			RefreshPerMin: 10,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeoutMs:   30000,
			HalfOpenProbes:   2,
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Embedding: EmbeddingConfig{
			Provider:   "local",
			Model:      "text-embedding-3-small",
			Dimensions: 128,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			MetricsAddr: ":9090",
		},
		Tracing: TracingConfig{
			Exporter:       "otlp",
			OTLPEndpoint:   "localhost:4318",
			ZipkinEndpoint: "http://localhost:9411/api/v2/spans",
			SampleRate:     1.0,
		},
	}
}

// MinEncryptionKeyBytes is the floor for the store encryption secret.
const MinEncryptionKeyBytes = 32

func (c Config) validate() error {
	if c.DataDir == "" {
		return errs.NewConfigError("dataDir must not be empty")
	}
	if len(c.Security.EncryptionKey) < MinEncryptionKeyBytes {
		return errs.NewConfigError(fmt.Sprintf(
			"security.encryptionKey must be at least %d bytes", MinEncryptionKeyBytes))
	}
	if c.Security.JWTSecret == "" {
		return errs.NewConfigError("security.jwtSecret is required")
	}

	if c.Auth.AccessTTLSec <= 0 {
		return errs.NewConfigError("auth.accessTtlSec must be positive")
	}
	if c.Auth.RefreshTTLSec <= c.Auth.AccessTTLSec {
		return errs.NewConfigError("auth.refreshTtlSec must exceed auth.accessTtlSec")
	}
	if c.Auth.LockoutThreshold < 1 {
		return errs.NewConfigError("auth.lockoutThreshold must be at least 1")
	}
	if c.Auth.LockoutDurationSec < 1 {
		return errs.NewConfigError("auth.lockoutDurationSec must be at least 1")
	}

	if c.Cache.BaseTTLSec <= 0 {
		return errs.NewConfigError("cache.baseTtlSec must be positive")
	}
	if c.Cache.MaxTTLSec < c.Cache.BaseTTLSec {
		return errs.NewConfigError("cache.maxTtlSec must be at least cache.baseTtlSec")
	}
	if c.Cache.SimilarThreshold <= 0 || c.Cache.SimilarThreshold > 1 {
		return errs.NewConfigError("cache.similarThreshold must be in (0, 1]")
	}
	if c.Cache.EmbeddingThreshold <= 0 || c.Cache.EmbeddingThreshold > 1 {
		return errs.NewConfigError("cache.embeddingThreshold must be in (0, 1]")
	}
	if c.Cache.EmbeddingThreshold > c.Cache.SimilarThreshold {
		return errs.NewConfigError("cache.embeddingThreshold must not exceed cache.similarThreshold")
	}
	if c.Cache.MaxEntries <= 0 {
		return errs.NewConfigError("cache.maxEntries must be positive")
	}
	if c.Cache.MaxBytes <= 0 {
		return errs.NewConfigError("cache.maxBytes must be positive")
	}

	if c.ANN.M < 2 {
		return errs.NewConfigError("ann.m must be at least 2")
	}
	if c.ANN.EfConstruction < c.ANN.M {
		return errs.NewConfigError("ann.efConstruction must be at least ann.m")
	}
	if c.ANN.EfSearch < 1 {
		return errs.NewConfigError("ann.efSearch must be at least 1")
	}

	switch c.Vector.Backend {
	case "hnsw", "chromem":
	case "pgvector":
		if c.Vector.DSN == "" {
			return errs.NewConfigError("vector.dsn is required for the pgvector backend")
		}
	default:
		return errs.NewConfigError(fmt.Sprintf("vector.backend %q is not one of hnsw, chromem, pgvector", c.Vector.Backend))
	}

	if c.Limits.LLMPerSec <= 0 {
		return errs.NewConfigError("limits.llmPerSec must be positive")
	}
	if c.Limits.AuthPerMin < 1 {
		return errs.NewConfigError("limits.authPerMin must be at least 1")
	}
	if c.Limits.RefreshPerMin < 1 {
		return errs.NewConfigError("limits.refreshPerMin must be at least 1")
	}

	if c.Breaker.FailureThreshold < 1 {
		return errs.NewConfigError("breaker.failureThreshold must be at least 1")
	}
	if c.Breaker.ResetTimeoutMs < 1 {
		return errs.NewConfigError("breaker.resetTimeoutMs must be at least 1")
	}
	if c.Breaker.HalfOpenProbes < 1 {
		return errs.NewConfigError("breaker.halfOpenProbes must be at least 1")
	}

	switch c.LLM.Provider {
	case "openai":
		if c.LLM.Model == "" {
			return errs.NewConfigError("llm.model is required for the openai provider")
		}
	case "mock":
	default:
		return errs.NewConfigError(fmt.Sprintf("llm.provider %q is not supported", c.LLM.Provider))
	}

	switch c.Embedding.Provider {
	case "openai":
		if c.Embedding.Model == "" {
			return errs.NewConfigError("embedding.model is required for the openai provider")
		}
	case "local":
	default:
		return errs.NewConfigError(fmt.Sprintf("embedding.provider %q is not supported", c.Embedding.Provider))
	}
	if c.Embedding.Dimensions <= 0 {
		return errs.NewConfigError("embedding.dimensions must be positive")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errs.NewConfigError(fmt.Sprintf("logLevel %q is not one of debug, info, warn, error", c.LogLevel))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return errs.NewConfigError(fmt.Sprintf("logFormat %q is not one of json, text", c.LogFormat))
	}

	if c.Server.Addr == "" {
		return errs.NewConfigError("server.addr must not be empty")
	}

	switch c.Tracing.Exporter {
	case "otlp", "zipkin":
	default:
		return errs.NewConfigError(fmt.Sprintf("tracing.exporter %q is not one of otlp, zipkin", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
		return errs.NewConfigError("tracing.sampleRate must be in (0, 1]")
	}
	return nil
}

func (c *Config) normalize() {
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.Security.EncryptionKey = strings.TrimSpace(c.Security.EncryptionKey)
	c.Security.JWTSecret = strings.TrimSpace(c.Security.JWTSecret)
	c.Vector.Backend = strings.ToLower(strings.TrimSpace(c.Vector.Backend))
	c.Vector.Collection = strings.TrimSpace(c.Vector.Collection)
	c.Vector.DSN = strings.TrimSpace(c.Vector.DSN)
	c.Vector.Table = strings.TrimSpace(c.Vector.Table)
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	c.Embedding.Provider = strings.ToLower(strings.TrimSpace(c.Embedding.Provider))
	c.Embedding.Model = strings.TrimSpace(c.Embedding.Model)
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	c.Server.MetricsAddr = strings.TrimSpace(c.Server.MetricsAddr)
	c.Tracing.Exporter = strings.ToLower(strings.TrimSpace(c.Tracing.Exporter))
	c.Tracing.OTLPEndpoint = strings.TrimSpace(c.Tracing.OTLPEndpoint)
	c.Tracing.ZipkinEndpoint = strings.TrimSpace(c.Tracing.ZipkinEndpoint)
}
