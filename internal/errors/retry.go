package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts  int                  // Total attempts including the first (default: 3)
	InitialDelay time.Duration        // Delay before the first retry (default: 1s)
	MaxDelay     time.Duration        // Cap on the backoff delay (default: 30s)
	Multiplier   float64              // Backoff growth factor (default: 2)
	JitterFactor float64              // Randomization fraction, e.g. 0.25 = ±25%
	Retryable    func(err error) bool // Defaults to IsTransient
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		JitterFactor: 0.25,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 1 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2
	}
	if c.Retryable == nil {
		c.Retryable = IsTransient
	}
	return c
}

// RetryableFunc is an idempotent operation that can be retried.
type RetryableFunc func(ctx context.Context) error

// Retry executes fn with exponential backoff until it succeeds, the
// retryable predicate rejects, the context is cancelled, or attempts run
// out. Exhaustion yields a RetryExhausted error wrapping the last failure.
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc) error {
	return RetryWithLog(ctx, config, fn, nil)
}

// RetryWithLog is Retry with a caller-supplied logger.
func RetryWithLog(ctx context.Context, config RetryConfig, fn RetryableFunc, logger logging.Logger) error {
	_, err := RetryWithResultAndLog(ctx, config, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, logger)
	return err
}

// RetryWithResult executes a value-returning operation with retry logic.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	return RetryWithResultAndLog(ctx, config, fn, nil)
}

// RetryWithResultAndLog is RetryWithResult with a caller-supplied logger.
func RetryWithResultAndLog[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error), logger logging.Logger) (T, error) {
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("retry")
	}
	config = config.withDefaults()

	var lastErr error
	var zeroValue T

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			logger.Debug("context cancelled, stopping retries")
			return zeroValue, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("succeeded after %d attempts", attempt)
			}
			return result, nil
		}

		lastErr = err
		logger.Debug("attempt %d/%d failed: %v", attempt, config.MaxAttempts, err)

		if !config.Retryable(err) {
			logger.Debug("error is not retryable, stopping")
			return zeroValue, err
		}
		if attempt == config.MaxAttempts {
			logger.Warn("retries exhausted after %d attempts", config.MaxAttempts)
			break
		}

		delay := backoffDelay(attempt, config)
		logger.Debug("waiting %v before next attempt", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			logger.Debug("context cancelled during backoff")
			return zeroValue, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return zeroValue, NewRetryExhausted(config.MaxAttempts, lastErr)
}

// backoffDelay computes min(maxDelay, initialDelay·multiplier^(attempt-1))
// scaled by 1 ± jitter.
func backoffDelay(attempt int, config RetryConfig) time.Duration {
	growth := math.Pow(config.Multiplier, float64(attempt-1))
	delay := time.Duration(float64(config.InitialDelay) * growth)
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if config.JitterFactor > 0 {
		jitter := float64(delay) * config.JitterFactor
		delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
		if delay < 0 {
			delay = config.InitialDelay
		}
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}
	return delay
}
