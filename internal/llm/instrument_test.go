package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeRecorder struct {
	mu      sync.Mutex
	calls   int
	model   string
	status  string
	latency time.Duration
	in, out int
}

func (r *fakeRecorder) RecordLLMRequest(_ context.Context, model, status string, latency time.Duration, in, out int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.model = model
	r.status = status
	r.latency = latency
	r.in = in
	r.out = out
}

func (r *fakeRecorder) snapshot() fakeRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fakeRecorder{calls: r.calls, model: r.model, status: r.status, latency: r.latency, in: r.in, out: r.out}
}

func TestInstrumentedGenerateRecordsSuccess(t *testing.T) {
	rec := &fakeRecorder{}
	client := NewInstrumented(NewMockClient(""), rec)

	text, err := client.Generate(context.Background(), Request{Prompt: "how do port scans work"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "mock response" {
		t.Fatalf("text = %q", text)
	}

	got := rec.snapshot()
	if got.calls != 1 || got.model != "mock" || got.status != "ok" {
		t.Errorf("recorded %+v", &got)
	}
	if got.in <= 0 || got.out <= 0 {
		t.Errorf("token estimates in=%d out=%d, want positive", got.in, got.out)
	}
}

func TestInstrumentedGenerateRecordsFailure(t *testing.T) {
	rec := &fakeRecorder{}
	mock := NewMockClient("")
	mock.FailNext(1, fmt.Errorf("upstream down"))
	client := NewInstrumented(mock, rec)

	if _, err := client.Generate(context.Background(), Request{Prompt: "q"}); err == nil {
		t.Fatal("expected the injected failure")
	}

	got := rec.snapshot()
	if got.status != "error" {
		t.Errorf("status = %q", got.status)
	}
	if got.out != 0 {
		t.Errorf("output tokens = %d on a failed call", got.out)
	}
}

func TestInstrumentedSystemPromptCountsAsInput(t *testing.T) {
	bare := &fakeRecorder{}
	client := NewInstrumented(NewMockClient(""), bare)
	if _, err := client.Generate(context.Background(), Request{Prompt: "short question"}); err != nil {
		t.Fatal(err)
	}

	withSystem := &fakeRecorder{}
	client = NewInstrumented(NewMockClient(""), withSystem)
	req := Request{
		Prompt: "short question",
		System: "You are a cybersecurity mentor with detailed operational knowledge.",
	}
	if _, err := client.Generate(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	if withSystem.snapshot().in <= bare.snapshot().in {
		t.Errorf("system prompt did not increase input estimate: %d vs %d",
			withSystem.snapshot().in, bare.snapshot().in)
	}
}

func TestInstrumentedNilRecorderPassesThrough(t *testing.T) {
	client := NewInstrumented(NewMockClient("fallback"), nil)
	text, err := client.Generate(context.Background(), Request{Prompt: "anything"})
	if err != nil || text != "fallback" {
		t.Fatalf("text=%q err=%v", text, err)
	}
}

func TestInstrumentedStreamForwardsAndMeasures(t *testing.T) {
	rec := &fakeRecorder{}
	client := NewInstrumented(NewMockClient(""), rec)

	chunks := make(chan string, 16)
	if err := client.GenerateStream(context.Background(), Request{Prompt: "stream it"}, chunks); err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	close(chunks)

	var parts []string
	for chunk := range chunks {
		parts = append(parts, chunk)
	}
	if got := strings.Join(parts, ""); got != "mock response" {
		t.Errorf("reassembled stream = %q", got)
	}

	got := rec.snapshot()
	if got.calls != 1 || got.status != "ok" {
		t.Errorf("recorded %+v", &got)
	}
	if got.out <= 0 {
		t.Errorf("output tokens = %d", got.out)
	}
}
