package errors

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func failingCall(ctx context.Context) error {
	return fmt.Errorf("downstream failure")
}

func okCall(ctx context.Context) error {
	return nil
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 3,
		HalfOpenProbes:   2,
		ResetTimeout:     time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, failingCall); err == nil {
			t.Fatal("expected failure to propagate")
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	invoked := false
	err := cb.Execute(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if invoked {
		t.Fatal("protected op must not run while open")
	}
	if !IsCircuitOpen(err) {
		t.Fatalf("expected circuit_open, got: %v", err)
	}
}

func TestCircuitBreakerFailsFastWhileOpen(t *testing.T) {
	cb := NewCircuitBreaker("fast", CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
	})
	ctx := context.Background()
	_ = cb.Execute(ctx, failingCall)

	start := time.Now()
	err := cb.Execute(ctx, okCall)
	elapsed := time.Since(start)

	if !IsCircuitOpen(err) {
		t.Fatalf("expected circuit_open, got: %v", err)
	}
	if elapsed > time.Millisecond {
		t.Fatalf("open rejection took %v, want < 1ms", elapsed)
	}
}

func TestCircuitBreakerRecoveryCycle(t *testing.T) {
	cb := NewCircuitBreaker("recovery", CircuitBreakerConfig{
		FailureThreshold: 3,
		HalfOpenProbes:   2,
		ResetTimeout:     200 * time.Millisecond,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failingCall)
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", cb.State())
	}

	// Inside the cooldown every call is shed.
	if err := cb.Execute(ctx, okCall); !IsCircuitOpen(err) {
		t.Fatalf("expected circuit_open during cooldown, got: %v", err)
	}

	time.Sleep(210 * time.Millisecond)

	// First probe is admitted.
	if err := cb.Execute(ctx, okCall); err != nil {
		t.Fatalf("expected probe to pass, got: %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open after one probe, got %s", cb.State())
	}

	// Second consecutive success closes the breaker.
	if err := cb.Execute(ctx, okCall); err != nil {
		t.Fatalf("expected second probe to pass, got: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after probes, got %s", cb.State())
	}

	// The failure counter re-arms from zero.
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, failingCall)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after 2 of 3 failures, got %s", cb.State())
	}
	_ = cb.Execute(ctx, failingCall)
	if cb.State() != StateOpen {
		t.Fatalf("expected open after 3 fresh failures, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("reopen", CircuitBreakerConfig{
		FailureThreshold: 1,
		HalfOpenProbes:   2,
		ResetTimeout:     50 * time.Millisecond,
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, failingCall)
	time.Sleep(60 * time.Millisecond)

	if err := cb.Execute(ctx, failingCall); err == nil {
		t.Fatal("expected probe failure to propagate")
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected reopen after probe failure, got %s", cb.State())
	}

	// The cooldown restarted, so the next call is shed again.
	if err := cb.Execute(ctx, okCall); !IsCircuitOpen(err) {
		t.Fatalf("expected circuit_open after reopen, got: %v", err)
	}
}

func TestCircuitBreakerLimitsConcurrentProbes(t *testing.T) {
	cb := NewCircuitBreaker("probes", CircuitBreakerConfig{
		FailureThreshold: 1,
		HalfOpenProbes:   1,
		ResetTimeout:     10 * time.Millisecond,
	})
	_ = cb.Execute(context.Background(), failingCall)
	time.Sleep(20 * time.Millisecond)

	// Admit one probe but do not mark it yet.
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected first probe admitted, got: %v", err)
	}
	// A second concurrent probe exceeds the cap.
	if err := cb.Allow(); !IsCircuitOpen(err) {
		t.Fatalf("expected second probe shed, got: %v", err)
	}

	cb.Mark(nil)
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after probe success, got %s", cb.State())
	}
}

func TestCircuitBreakerManagerReusesInstances(t *testing.T) {
	manager := NewCircuitBreakerManager(DefaultCircuitBreakerConfig())

	first := manager.Get("llm")
	second := manager.Get("llm")
	if first != second {
		t.Fatal("expected the same breaker for the same name")
	}
	if other := manager.Get("embedder"); other == first {
		t.Fatal("expected distinct breakers per name")
	}
	if got := len(manager.GetMetrics()); got != 2 {
		t.Fatalf("expected metrics for 2 breakers, got %d", got)
	}
}

func TestExecuteFuncReturnsValue(t *testing.T) {
	cb := NewCircuitBreaker("value", DefaultCircuitBreakerConfig())
	got, err := ExecuteFunc(cb, context.Background(), func(ctx context.Context) (string, error) {
		return "result", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "result" {
		t.Fatalf("expected result, got %q", got)
	}
}
