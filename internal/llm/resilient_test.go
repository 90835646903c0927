package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
)

// fastRetry keeps backoff delays far below test timeouts.
func fastRetry(attempts int) errs.RetryConfig {
	return errs.RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}
}

func transientBoom() error {
	return errs.NewTransientError(errors.New("boom"), "upstream hiccup")
}

func TestResilientRetriesTransientFailures(t *testing.T) {
	mock := NewMockClient("recovered")
	mock.FailNext(2, transientBoom())

	client := NewResilientClient(mock, ResilientConfig{Retry: fastRetry(3)}, nil, nil)
	text, err := client.Generate(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "recovered" {
		t.Errorf("text = %q, want %q", text, "recovered")
	}
	if got := mock.Calls(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestResilientDoesNotRetryPermanentFailures(t *testing.T) {
	mock := NewMockClient("")
	mock.FailNext(1, errs.NewPermanentError(errors.New("bad key"), "invalid API key"))

	client := NewResilientClient(mock, ResilientConfig{Retry: fastRetry(3)}, nil, nil)
	_, err := client.Generate(context.Background(), Request{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	var perm *errs.PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("want PermanentError, got %T: %v", err, err)
	}
	if got := mock.Calls(); got != 1 {
		t.Errorf("permanent failure should not retry, calls = %d", got)
	}
}

func TestResilientReportsExhaustion(t *testing.T) {
	mock := NewMockClient("")
	mock.FailNext(10, transientBoom())

	client := NewResilientClient(mock, ResilientConfig{Retry: fastRetry(3)}, nil, nil)
	_, err := client.Generate(context.Background(), Request{Prompt: "hi"})
	if !errs.IsRetryExhausted(err) {
		t.Fatalf("want retry exhaustion, got %v", err)
	}
	if got := mock.Calls(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestResilientBreakerOpensAndFailsFast(t *testing.T) {
	mock := NewMockClient("")
	mock.FailNext(10, transientBoom())

	client := NewResilientClient(mock, ResilientConfig{
		Retry:   fastRetry(1),
		Breaker: errs.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute},
	}, nil, nil)

	for i := 0; i < 2; i++ {
		if _, err := client.Generate(context.Background(), Request{Prompt: "hi"}); err == nil {
			t.Fatalf("call %d should fail", i+1)
		}
	}
	if got := mock.Calls(); got != 2 {
		t.Fatalf("calls before opening = %d, want 2", got)
	}

	_, err := client.Generate(context.Background(), Request{Prompt: "hi"})
	if !errs.IsCircuitOpen(err) {
		t.Fatalf("want circuit open, got %v", err)
	}
	if got := mock.Calls(); got != 2 {
		t.Errorf("open breaker should not reach the endpoint, calls = %d", got)
	}
	if state := client.Health().State; state != HealthStateDown {
		t.Errorf("health state = %q, want %q", state, HealthStateDown)
	}
}

func TestResilientHealthAfterSuccess(t *testing.T) {
	mock := NewMockClient("fine")
	registry := NewHealthRegistry()

	client := NewResilientClient(mock, ResilientConfig{Retry: fastRetry(3)}, registry, nil)
	for i := 0; i < 3; i++ {
		if _, err := client.Generate(context.Background(), Request{Prompt: "hi"}); err != nil {
			t.Fatalf("Generate: %v", err)
		}
	}

	health := client.Health()
	if health.State != HealthStateHealthy {
		t.Errorf("state = %q, want healthy", health.State)
	}
	if health.FailureCount != 0 {
		t.Errorf("failureCount = %d, want 0", health.FailureCount)
	}
	if health.Latency.P50 <= 0 {
		t.Errorf("latency samples should be recorded, P50 = %v", health.Latency.P50)
	}

	all := registry.GetAllHealth()
	if len(all) != 1 || all[0].Name != "mock" {
		t.Errorf("registry should track the wrapped endpoint, got %+v", all)
	}
}

type deadlineProbe struct{ hasDeadline bool }

func (p *deadlineProbe) Name() string { return "probe" }

func (p *deadlineProbe) Generate(ctx context.Context, _ Request) (string, error) {
	_, p.hasDeadline = ctx.Deadline()
	return "ok", nil
}

func TestResilientAppliesDefaultDeadline(t *testing.T) {
	probe := &deadlineProbe{}
	client := NewResilientClient(probe, ResilientConfig{Retry: fastRetry(1)}, nil, nil)

	if _, err := client.Generate(context.Background(), Request{Prompt: "hi"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !probe.hasDeadline {
		t.Error("calls without a deadline should get the default timeout")
	}
}

func TestResilientRateLimitHonorsContext(t *testing.T) {
	mock := NewMockClient("ok")
	client := NewResilientClient(mock, ResilientConfig{
		Retry:      fastRetry(1),
		RatePerMin: 60,
		Burst:      1,
	}, nil, nil)

	if _, err := client.Generate(context.Background(), Request{Prompt: "hi"}); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}

	// The bucket is empty and refills at one token per second; a short
	// deadline has to beat the refill.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Generate(ctx, Request{Prompt: "hi"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded while throttled, got %v", err)
	}
	if got := mock.Calls(); got != 1 {
		t.Errorf("throttled call should not reach the endpoint, calls = %d", got)
	}
}

func TestResilientStreamProxies(t *testing.T) {
	mock := NewMockClient("streamed words here")
	client := NewResilientClient(mock, ResilientConfig{Retry: fastRetry(1)}, nil, nil)

	chunks := make(chan string, 16)
	if err := client.GenerateStream(context.Background(), Request{Prompt: "hi"}, chunks); err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	close(chunks)

	var parts []string
	for chunk := range chunks {
		parts = append(parts, chunk)
	}
	if len(parts) < 2 {
		t.Errorf("streaming client should chunk output, got %d chunks", len(parts))
	}
	if got := strings.Join(parts, ""); got != "streamed words here" {
		t.Errorf("joined stream = %q", got)
	}
}

type bufferedOnly struct{ inner *MockClient }

func (b *bufferedOnly) Name() string { return b.inner.Name() }

func (b *bufferedOnly) Generate(ctx context.Context, req Request) (string, error) {
	return b.inner.Generate(ctx, req)
}

func TestResilientStreamFallsBackToBuffered(t *testing.T) {
	mock := NewMockClient("single buffered response")
	client := NewResilientClient(&bufferedOnly{inner: mock}, ResilientConfig{Retry: fastRetry(1)}, nil, nil)

	chunks := make(chan string, 1)
	if err := client.GenerateStream(context.Background(), Request{Prompt: "hi"}, chunks); err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	close(chunks)

	var parts []string
	for chunk := range chunks {
		parts = append(parts, chunk)
	}
	if len(parts) != 1 || parts[0] != "single buffered response" {
		t.Errorf("buffered fallback should deliver one chunk, got %q", parts)
	}
}

func TestResilientStreamDoesNotRetry(t *testing.T) {
	mock := NewMockClient("fine")
	mock.FailNext(1, transientBoom())

	client := NewResilientClient(mock, ResilientConfig{Retry: fastRetry(3)}, nil, nil)
	chunks := make(chan string, 16)
	err := client.GenerateStream(context.Background(), Request{Prompt: "hi"}, chunks)
	if err == nil {
		t.Fatal("expected the stream failure to surface")
	}
	if got := mock.Calls(); got != 1 {
		t.Errorf("streams must not retry, calls = %d", got)
	}
}

func TestResilientName(t *testing.T) {
	client := NewResilientClient(NewMockClient(""), ResilientConfig{}, nil, nil)
	if got := client.Name(); got != "mock" {
		t.Errorf("Name() = %q", got)
	}
}
