package config

import (
	"testing"
	"time"

	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
)

func validConfig() Config {
	cfg := defaultConfig()
	cfg.Security.EncryptionKey = testKey
	cfg.Security.JWTSecret = "unit-test-signing-secret"
	cfg.LLM.Provider = "mock"
	return cfg
}

func TestValidateAcceptsDefaultsWithSecrets(t *testing.T) {
	cfg := validConfig()
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]func(*Config){
		"refresh not beyond access": func(c *Config) { c.Auth.RefreshTTLSec = c.Auth.AccessTTLSec },
		"zero access ttl":           func(c *Config) { c.Auth.AccessTTLSec = 0 },
		"zero lockout duration":     func(c *Config) { c.Auth.LockoutDurationSec = 0 },
		"max ttl below base":        func(c *Config) { c.Cache.MaxTTLSec = c.Cache.BaseTTLSec - 1 },
		"similar threshold over 1":  func(c *Config) { c.Cache.SimilarThreshold = 1.01 },
		"embedding above similar":   func(c *Config) { c.Cache.EmbeddingThreshold = 0.99 },
		"zero cache entries":        func(c *Config) { c.Cache.MaxEntries = 0 },
		"negative cache bytes":      func(c *Config) { c.Cache.MaxBytes = -1 },
		"degenerate graph degree":   func(c *Config) { c.ANN.M = 1 },
		"efConstruction below m":    func(c *Config) { c.ANN.EfConstruction = c.ANN.M - 1 },
		"zero efSearch":             func(c *Config) { c.ANN.EfSearch = 0 },
		"unknown vector backend":    func(c *Config) { c.Vector.Backend = "faiss" },
		"pgvector without dsn":      func(c *Config) { c.Vector.Backend = "pgvector" },
		"zero llm rate":             func(c *Config) { c.Limits.LLMPerSec = 0 },
		"zero auth rate":            func(c *Config) { c.Limits.AuthPerMin = 0 },
		"zero breaker reset":        func(c *Config) { c.Breaker.ResetTimeoutMs = 0 },
		"unknown llm provider":      func(c *Config) { c.LLM.Provider = "llama" },
		"openai without model":      func(c *Config) { c.LLM.Provider = "openai"; c.LLM.Model = "" },
		"unknown embed provider":    func(c *Config) { c.Embedding.Provider = "word2vec" },
		"zero dimensions":           func(c *Config) { c.Embedding.Dimensions = 0 },
		"unknown log level":         func(c *Config) { c.LogLevel = "verbose" },
		"unknown log format":        func(c *Config) { c.LogFormat = "logfmt" },
		"empty server addr":         func(c *Config) { c.Server.Addr = "" },
		"unknown trace exporter":    func(c *Config) { c.Tracing.Exporter = "jaeger" },
		"sample rate over 1":        func(c *Config) { c.Tracing.SampleRate = 1.5 },
		"zero sample rate":          func(c *Config) { c.Tracing.SampleRate = 0 },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		if err := cfg.validate(); !errs.IsConfigError(err) {
			t.Errorf("%s: err = %v, want config error", name, err)
		}
	}
}

func TestDurationAccessors(t *testing.T) {
	a := AuthConfig{AccessTTLSec: 900, RefreshTTLSec: 3600, LockoutDurationSec: 60}
	if a.AccessTTL() != 15*time.Minute || a.RefreshTTL() != time.Hour || a.LockoutDuration() != time.Minute {
		t.Errorf("auth durations: %v %v %v", a.AccessTTL(), a.RefreshTTL(), a.LockoutDuration())
	}
	c := CacheConfig{BaseTTLSec: 30, MaxTTLSec: 90}
	if c.BaseTTL() != 30*time.Second || c.MaxTTL() != 90*time.Second {
		t.Errorf("cache durations: %v %v", c.BaseTTL(), c.MaxTTL())
	}
	b := BreakerConfig{ResetTimeoutMs: 250}
	if b.ResetTimeout() != 250*time.Millisecond {
		t.Errorf("breaker reset: %v", b.ResetTimeout())
	}
}
