package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
	jsonx "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/shared/json"
)

// ValueSource names where a configuration value came from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

// Metadata records provenance for loaded configuration.
type Metadata struct {
	sources  map[string]ValueSource
	loadedAt time.Time
}

// Source returns the origin of the given field, named by its JSON path,
// for example "cache.maxEntries".
func (m Metadata) Source(field string) ValueSource {
	if src, ok := m.sources[field]; ok {
		return src
	}
	return SourceDefault
}

// LoadedAt returns when the configuration was constructed.
func (m Metadata) LoadedAt() time.Time { return m.loadedAt }

// EnvLookup resolves an environment variable.
type EnvLookup func(string) (string, bool)

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) { return os.LookupEnv(key) }

// envAliases lets widely-known variables stand in for ours when the
// canonical name is unset.
var envAliases = map[string][]string{
	"CODI_LLM_API_KEY": {"OPENAI_API_KEY"},
}

func aliasLookup(base EnvLookup) EnvLookup {
	return func(key string) (string, bool) {
		if value, ok := base(key); ok && value != "" {
			return value, true
		}
		for _, alias := range envAliases[key] {
			if value, ok := base(alias); ok && value != "" {
				return value, true
			}
		}
		return "", false
	}
}

// Overrides carries caller-supplied values that win over every other
// source. Nil fields leave the loaded value alone.
type Overrides struct {
	DataDir     *string
	LogLevel    *string
	ServerAddr  *string
	MetricsAddr *string
	LLMProvider *string
	LLMModel    *string
	LLMBaseURL  *string
}

// Option customises the loader.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	configPath string
	overrides  Overrides
}

// WithEnv supplies a custom environment lookup, used primarily by tests.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// WithFileReader injects a custom file reader, used primarily by tests.
func WithFileReader(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) { o.readFile = reader }
}

// WithConfigPath reads configuration from an explicit file. Unlike the
// default path, a missing explicit file is an error: the operator asked
// for it by name.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = path }
}

// WithOverrides applies caller overrides at the highest precedence.
func WithOverrides(overrides Overrides) Option {
	return func(o *loadOptions) { o.overrides = overrides }
}

// defaultConfigFile is consulted when no explicit path is given.
const defaultConfigFile = "codi.json"

// Load builds the process configuration. Precedence, lowest to highest:
// built-in defaults, the JSON config file, CODI_* environment variables,
// caller overrides. The result is validated; an invalid configuration
// never leaves this function.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
	}
	for _, opt := range opts {
		opt(&options)
	}
	lookup := aliasLookup(options.envLookup)

	cfg := defaultConfig()
	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}

	if err := applyFile(&cfg, &meta, options, lookup); err != nil {
		return Config{}, Metadata{}, err
	}
	if err := applyEnv(&cfg, &meta, lookup); err != nil {
		return Config{}, Metadata{}, err
	}
	applyOverrides(&cfg, &meta, options.overrides)

	cfg.normalize()

	// Without an API key the remote providers cannot answer; fall back to
	// the offline ones instead of failing a fresh install.
	if cfg.LLM.Provider == "openai" && cfg.LLM.APIKey == "" {
		cfg.LLM.Provider = "mock"
		meta.sources["llm.provider"] = SourceDefault
	}
	if cfg.Embedding.Provider == "openai" && cfg.LLM.APIKey == "" {
		cfg.Embedding.Provider = "local"
		meta.sources["embedding.provider"] = SourceDefault
	}

	if err := cfg.validate(); err != nil {
		return Config{}, Metadata{}, err
	}
	return cfg, meta, nil
}

// fileConfig mirrors Config with pointer numerics so an absent key and an
// explicit zero can be told apart.
type fileConfig struct {
	DataDir   string `json:"dataDir"`
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"`

	Security struct {
		EncryptionKey string `json:"encryptionKey"`
		JWTSecret     string `json:"jwtSecret"`
	} `json:"security"`

	Auth struct {
		AccessTTLSec       *int `json:"accessTtlSec"`
		RefreshTTLSec      *int `json:"refreshTtlSec"`
		LockoutThreshold   *int `json:"lockoutThreshold"`
		LockoutDurationSec *int `json:"lockoutDurationSec"`
	} `json:"auth"`

	Cache struct {
		BaseTTLSec         *int     `json:"baseTtlSec"`
		MaxTTLSec          *int     `json:"maxTtlSec"`
		SimilarThreshold   *float64 `json:"similarThreshold"`
		EmbeddingThreshold *float64 `json:"embeddingThreshold"`
		MaxEntries         *int     `json:"maxEntries"`
		MaxBytes           *int64   `json:"maxBytes"`
	} `json:"cache"`

	ANN struct {
		M              *int `json:"m"`
		EfConstruction *int `json:"efConstruction"`
		EfSearch       *int `json:"efSearch"`
	} `json:"ann"`

	Vector struct {
		Backend    string `json:"backend"`
		Collection string `json:"collection"`
		DSN        string `json:"dsn"`
		Table      string `json:"table"`
	} `json:"vector"`

	Limits struct {
		LLMPerSec     *float64 `json:"llmPerSec"`
		AuthPerMin    *int     `json:"authPerMin"`
		RefreshPerMin *int     `json:"refreshPerMin"`
	} `json:"limits"`

	Breaker struct {
		FailureThreshold *int `json:"failureThreshold"`
		ResetTimeoutMs   *int `json:"resetTimeoutMs"`
		HalfOpenProbes   *int `json:"halfOpenProbes"`
	} `json:"breaker"`

	LLM struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
		APIKey   string `json:"apiKey"`
		BaseURL  string `json:"baseUrl"`
	} `json:"llm"`

	Embedding struct {
		Provider   string `json:"provider"`
		Model      string `json:"model"`
		Dimensions *int   `json:"dimensions"`
	} `json:"embedding"`

	Server struct {
		Addr        string `json:"addr"`
		MetricsAddr string `json:"metricsAddr"`
	} `json:"server"`

	Tracing struct {
		Enabled        *bool    `json:"enabled"`
		Exporter       string   `json:"exporter"`
		OTLPEndpoint   string   `json:"otlpEndpoint"`
		ZipkinEndpoint string   `json:"zipkinEndpoint"`
		SampleRate     *float64 `json:"sampleRate"`
	} `json:"tracing"`
}

func applyFile(cfg *Config, meta *Metadata, opts loadOptions, lookup EnvLookup) error {
	path := opts.configPath
	explicit := path != ""
	if !explicit {
		if env, ok := lookup("CODI_CONFIG"); ok {
			path = env
			explicit = true
		} else {
			path = defaultConfigFile
		}
	}

	data, err := opts.readFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return errs.NewConfigError(fmt.Sprintf("read config file %s: %v", path, err))
	}

	var parsed fileConfig
	if err := jsonx.Unmarshal(data, &parsed); err != nil {
		return errs.NewConfigError(fmt.Sprintf("parse config file %s: %v", path, err))
	}

	setStr := func(field string, dst *string, v string) {
		if v != "" {
			*dst = v
			meta.sources[field] = SourceFile
		}
	}
	setInt := func(field string, dst *int, v *int) {
		if v != nil {
			*dst = *v
			meta.sources[field] = SourceFile
		}
	}
	setInt64 := func(field string, dst *int64, v *int64) {
		if v != nil {
			*dst = *v
			meta.sources[field] = SourceFile
		}
	}
	setFloat := func(field string, dst *float64, v *float64) {
		if v != nil {
			*dst = *v
			meta.sources[field] = SourceFile
		}
	}
	setBool := func(field string, dst *bool, v *bool) {
		if v != nil {
			*dst = *v
			meta.sources[field] = SourceFile
		}
	}

	setStr("dataDir", &cfg.DataDir, parsed.DataDir)
	setStr("logLevel", &cfg.LogLevel, parsed.LogLevel)
	setStr("logFormat", &cfg.LogFormat, parsed.LogFormat)

	setStr("security.encryptionKey", &cfg.Security.EncryptionKey, parsed.Security.EncryptionKey)
	setStr("security.jwtSecret", &cfg.Security.JWTSecret, parsed.Security.JWTSecret)

	setInt("auth.accessTtlSec", &cfg.Auth.AccessTTLSec, parsed.Auth.AccessTTLSec)
	setInt("auth.refreshTtlSec", &cfg.Auth.RefreshTTLSec, parsed.Auth.RefreshTTLSec)
	setInt("auth.lockoutThreshold", &cfg.Auth.LockoutThreshold, parsed.Auth.LockoutThreshold)
	setInt("auth.lockoutDurationSec", &cfg.Auth.LockoutDurationSec, parsed.Auth.LockoutDurationSec)

	setInt("cache.baseTtlSec", &cfg.Cache.BaseTTLSec, parsed.Cache.BaseTTLSec)
	setInt("cache.maxTtlSec", &cfg.Cache.MaxTTLSec, parsed.Cache.MaxTTLSec)
	setFloat("cache.similarThreshold", &cfg.Cache.SimilarThreshold, parsed.Cache.SimilarThreshold)
	setFloat("cache.embeddingThreshold", &cfg.Cache.EmbeddingThreshold, parsed.Cache.EmbeddingThreshold)
	setInt("cache.maxEntries", &cfg.Cache.MaxEntries, parsed.Cache.MaxEntries)
	setInt64("cache.maxBytes", &cfg.Cache.MaxBytes, parsed.Cache.MaxBytes)

	setInt("ann.m", &cfg.ANN.M, parsed.ANN.M)
	setInt("ann.efConstruction", &cfg.ANN.EfConstruction, parsed.ANN.EfConstruction)
	setInt("ann.efSearch", &cfg.ANN.EfSearch, parsed.ANN.EfSearch)

	setStr("vector.backend", &cfg.Vector.Backend, parsed.Vector.Backend)
	setStr("vector.collection", &cfg.Vector.Collection, parsed.Vector.Collection)
	setStr("vector.dsn", &cfg.Vector.DSN, parsed.Vector.DSN)
	setStr("vector.table", &cfg.Vector.Table, parsed.Vector.Table)

	setFloat("limits.llmPerSec", &cfg.Limits.LLMPerSec, parsed.Limits.LLMPerSec)
	setInt("limits.authPerMin", &cfg.Limits.AuthPerMin, parsed.Limits.AuthPerMin)
	setInt("limits.refreshPerMin", &cfg.Limits.RefreshPerMin, parsed.Limits.RefreshPerMin)

	setInt("breaker.failureThreshold", &cfg.Breaker.FailureThreshold, parsed.Breaker.FailureThreshold)
	setInt("breaker.resetTimeoutMs", &cfg.Breaker.ResetTimeoutMs, parsed.Breaker.ResetTimeoutMs)
	setInt("breaker.halfOpenProbes", &cfg.Breaker.HalfOpenProbes, parsed.Breaker.HalfOpenProbes)

	setStr("llm.provider", &cfg.LLM.Provider, parsed.LLM.Provider)
	setStr("llm.model", &cfg.LLM.Model, parsed.LLM.Model)
	setStr("llm.apiKey", &cfg.LLM.APIKey, parsed.LLM.APIKey)
	setStr("llm.baseUrl", &cfg.LLM.BaseURL, parsed.LLM.BaseURL)

	setStr("embedding.provider", &cfg.Embedding.Provider, parsed.Embedding.Provider)
	setStr("embedding.model", &cfg.Embedding.Model, parsed.Embedding.Model)
	setInt("embedding.dimensions", &cfg.Embedding.Dimensions, parsed.Embedding.Dimensions)

	setStr("server.addr", &cfg.Server.Addr, parsed.Server.Addr)
	setStr("server.metricsAddr", &cfg.Server.MetricsAddr, parsed.Server.MetricsAddr)

	setBool("tracing.enabled", &cfg.Tracing.Enabled, parsed.Tracing.Enabled)
	setStr("tracing.exporter", &cfg.Tracing.Exporter, parsed.Tracing.Exporter)
	setStr("tracing.otlpEndpoint", &cfg.Tracing.OTLPEndpoint, parsed.Tracing.OTLPEndpoint)
	setStr("tracing.zipkinEndpoint", &cfg.Tracing.ZipkinEndpoint, parsed.Tracing.ZipkinEndpoint)
	setFloat("tracing.sampleRate", &cfg.Tracing.SampleRate, parsed.Tracing.SampleRate)

	return nil
}

func applyEnv(cfg *Config, meta *Metadata, lookup EnvLookup) error {
	var firstErr error

	setStr := func(envKey, field string, dst *string) {
		if v, ok := lookup(envKey); ok {
			if v = strings.TrimSpace(v); v != "" {
				*dst = v
				meta.sources[field] = SourceEnv
			}
		}
	}
	setInt := func(envKey, field string, dst *int) {
		v, ok := lookup(envKey)
		if !ok || firstErr != nil {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			firstErr = errs.NewConfigError(fmt.Sprintf("%s: %q is not an integer", envKey, v))
			return
		}
		*dst = n
		meta.sources[field] = SourceEnv
	}
	setInt64 := func(envKey, field string, dst *int64) {
		v, ok := lookup(envKey)
		if !ok || firstErr != nil {
			return
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			firstErr = errs.NewConfigError(fmt.Sprintf("%s: %q is not an integer", envKey, v))
			return
		}
		*dst = n
		meta.sources[field] = SourceEnv
	}
	setFloat := func(envKey, field string, dst *float64) {
		v, ok := lookup(envKey)
		if !ok || firstErr != nil {
			return
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			firstErr = errs.NewConfigError(fmt.Sprintf("%s: %q is not a number", envKey, v))
			return
		}
		*dst = f
		meta.sources[field] = SourceEnv
	}
	setBool := func(envKey, field string, dst *bool) {
		v, ok := lookup(envKey)
		if !ok || firstErr != nil {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			firstErr = errs.NewConfigError(fmt.Sprintf("%s: %q is not a boolean", envKey, v))
			return
		}
		*dst = b
		meta.sources[field] = SourceEnv
	}

	setStr("CODI_DATA_DIR", "dataDir", &cfg.DataDir)
	setStr("CODI_LOG_LEVEL", "logLevel", &cfg.LogLevel)
	setStr("CODI_LOG_FORMAT", "logFormat", &cfg.LogFormat)

	setStr("CODI_ENCRYPTION_KEY", "security.encryptionKey", &cfg.Security.EncryptionKey)
	setStr("CODI_JWT_SECRET", "security.jwtSecret", &cfg.Security.JWTSecret)

	setInt("CODI_ACCESS_TTL_SEC", "auth.accessTtlSec", &cfg.Auth.AccessTTLSec)
	setInt("CODI_REFRESH_TTL_SEC", "auth.refreshTtlSec", &cfg.Auth.RefreshTTLSec)
	setInt("CODI_LOCKOUT_THRESHOLD", "auth.lockoutThreshold", &cfg.Auth.LockoutThreshold)
	setInt("CODI_LOCKOUT_DURATION_SEC", "auth.lockoutDurationSec", &cfg.Auth.LockoutDurationSec)

	setInt("CODI_CACHE_BASE_TTL_SEC", "cache.baseTtlSec", &cfg.Cache.BaseTTLSec)
	setInt("CODI_CACHE_MAX_TTL_SEC", "cache.maxTtlSec", &cfg.Cache.MaxTTLSec)
	setFloat("CODI_CACHE_SIMILAR_THRESHOLD", "cache.similarThreshold", &cfg.Cache.SimilarThreshold)
	setFloat("CODI_CACHE_EMBEDDING_THRESHOLD", "cache.embeddingThreshold", &cfg.Cache.EmbeddingThreshold)
	setInt("CODI_CACHE_MAX_ENTRIES", "cache.maxEntries", &cfg.Cache.MaxEntries)
	setInt64("CODI_CACHE_MAX_BYTES", "cache.maxBytes", &cfg.Cache.MaxBytes)

	setInt("CODI_ANN_M", "ann.m", &cfg.ANN.M)
	setInt("CODI_ANN_EF_CONSTRUCTION", "ann.efConstruction", &cfg.ANN.EfConstruction)
	setInt("CODI_ANN_EF_SEARCH", "ann.efSearch", &cfg.ANN.EfSearch)

	setStr("CODI_VECTOR_BACKEND", "vector.backend", &cfg.Vector.Backend)
	setStr("CODI_VECTOR_COLLECTION", "vector.collection", &cfg.Vector.Collection)
	setStr("CODI_VECTOR_DSN", "vector.dsn", &cfg.Vector.DSN)
	setStr("CODI_VECTOR_TABLE", "vector.table", &cfg.Vector.Table)

	setFloat("CODI_LIMIT_LLM_PER_SEC", "limits.llmPerSec", &cfg.Limits.LLMPerSec)
	setInt("CODI_LIMIT_AUTH_PER_MIN", "limits.authPerMin", &cfg.Limits.AuthPerMin)
	setInt("CODI_LIMIT_REFRESH_PER_MIN", "limits.refreshPerMin", &cfg.Limits.RefreshPerMin)

	setInt("CODI_BREAKER_FAILURE_THRESHOLD", "breaker.failureThreshold", &cfg.Breaker.FailureThreshold)
	setInt("CODI_BREAKER_RESET_TIMEOUT_MS", "breaker.resetTimeoutMs", &cfg.Breaker.ResetTimeoutMs)
	setInt("CODI_BREAKER_HALF_OPEN_PROBES", "breaker.halfOpenProbes", &cfg.Breaker.HalfOpenProbes)

	setStr("CODI_LLM_PROVIDER", "llm.provider", &cfg.LLM.Provider)
	setStr("CODI_LLM_MODEL", "llm.model", &cfg.LLM.Model)
	setStr("CODI_LLM_API_KEY", "llm.apiKey", &cfg.LLM.APIKey)
	setStr("CODI_LLM_BASE_URL", "llm.baseUrl", &cfg.LLM.BaseURL)

	setStr("CODI_EMBEDDING_PROVIDER", "embedding.provider", &cfg.Embedding.Provider)
	setStr("CODI_EMBEDDING_MODEL", "embedding.model", &cfg.Embedding.Model)
	setInt("CODI_EMBEDDING_DIMENSIONS", "embedding.dimensions", &cfg.Embedding.Dimensions)

	setStr("CODI_SERVER_ADDR", "server.addr", &cfg.Server.Addr)
	setStr("CODI_METRICS_ADDR", "server.metricsAddr", &cfg.Server.MetricsAddr)

	setBool("CODI_TRACING_ENABLED", "tracing.enabled", &cfg.Tracing.Enabled)
	setStr("CODI_TRACING_EXPORTER", "tracing.exporter", &cfg.Tracing.Exporter)
	setStr("CODI_TRACING_OTLP_ENDPOINT", "tracing.otlpEndpoint", &cfg.Tracing.OTLPEndpoint)
	setStr("CODI_TRACING_ZIPKIN_ENDPOINT", "tracing.zipkinEndpoint", &cfg.Tracing.ZipkinEndpoint)
	setFloat("CODI_TRACING_SAMPLE_RATE", "tracing.sampleRate", &cfg.Tracing.SampleRate)

	return firstErr
}

func applyOverrides(cfg *Config, meta *Metadata, o Overrides) {
	set := func(field string, dst *string, v *string) {
		if v != nil && *v != "" {
			*dst = *v
			meta.sources[field] = SourceOverride
		}
	}
	set("dataDir", &cfg.DataDir, o.DataDir)
	set("logLevel", &cfg.LogLevel, o.LogLevel)
	set("server.addr", &cfg.Server.Addr, o.ServerAddr)
	set("server.metricsAddr", &cfg.Server.MetricsAddr, o.MetricsAddr)
	set("llm.provider", &cfg.LLM.Provider, o.LLMProvider)
	set("llm.model", &cfg.LLM.Model, o.LLMModel)
	set("llm.baseUrl", &cfg.LLM.BaseURL, o.LLMBaseURL)
}
