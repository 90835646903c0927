package llm

import (
	"context"
	"time"

	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/ratelimit"
)

// ResilientConfig tunes the protective layers around a Client.
type ResilientConfig struct {
	Retry      errs.RetryConfig
	Breaker    errs.CircuitBreakerConfig
	RatePerMin int           // token bucket refill rate; 0 disables the limiter
	Burst      int           // bucket capacity, default RatePerMin
	Timeout    time.Duration // per-call deadline when the caller sets none
}

// ResilientClient wraps a Client with a rate limiter, circuit breaker, and
// retry, in that order. Streaming goes through limiter and breaker only;
// retrying a half-delivered stream would duplicate output.
type ResilientClient struct {
	underlying Client
	retry      errs.RetryConfig
	breaker    *errs.CircuitBreaker
	limiter    *ratelimit.TokenBucket
	timeout    time.Duration
	health     *HealthRegistry
	logger     logging.Logger
}

// NewResilientClient wraps client. A nil health registry gets a private one;
// passing a shared registry lets the server aggregate every endpoint.
func NewResilientClient(client Client, config ResilientConfig, health *HealthRegistry, logger logging.Logger) *ResilientClient {
	breaker := errs.NewCircuitBreaker(client.Name(), config.Breaker)

	var limiter *ratelimit.TokenBucket
	if config.RatePerMin > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = config.RatePerMin
		}
		limiter = ratelimit.NewTokenBucket(float64(burst), float64(config.RatePerMin)/60.0)
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if health == nil {
		health = NewHealthRegistry()
	}
	health.Register(client.Name(), breaker)

	return &ResilientClient{
		underlying: client,
		retry:      config.Retry,
		breaker:    breaker,
		limiter:    limiter,
		timeout:    config.Timeout,
		health:     health,
		logger:     logging.OrNop(logger),
	}
}

func (c *ResilientClient) Name() string { return c.underlying.Name() }

// Health reports the wrapped endpoint's current state.
func (c *ResilientClient) Health() ProviderHealth {
	return c.health.GetHealth(c.underlying.Name())
}

func (c *ResilientClient) Generate(ctx context.Context, req Request) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, 1); err != nil {
			return "", err
		}
	}
	ctx, cancel := withDefaultTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	text, err := errs.RetryWithResultAndLog(ctx, c.retry, func(ctx context.Context) (string, error) {
		return errs.ExecuteFunc(c.breaker, ctx, func(ctx context.Context) (string, error) {
			return c.underlying.Generate(ctx, req)
		})
	}, c.logger)
	if err != nil {
		c.health.RecordError(c.underlying.Name(), err)
		return "", err
	}
	c.health.RecordLatency(c.underlying.Name(), time.Since(start))
	return text, nil
}

// GenerateStream proxies to the underlying stream when available, falling
// back to a single buffered Generate otherwise.
func (c *ResilientClient) GenerateStream(ctx context.Context, req Request, chunks chan<- string) error {
	streaming, ok := c.underlying.(StreamingClient)
	if !ok {
		text, err := c.Generate(ctx, req)
		if err != nil {
			return err
		}
		select {
		case chunks <- text:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, 1); err != nil {
			return err
		}
	}
	ctx, cancel := withDefaultTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return streaming.GenerateStream(ctx, req, chunks)
	})
	if err != nil {
		c.health.RecordError(c.underlying.Name(), err)
		return err
	}
	c.health.RecordLatency(c.underlying.Name(), time.Since(start))
	return nil
}
