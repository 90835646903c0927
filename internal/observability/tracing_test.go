package observability

import (
	"context"
	"strings"
	"testing"
)

func TestDisabledTracerIsNoop(t *testing.T) {
	tp, err := NewTracerProvider(TracingConfig{})
	if err != nil {
		t.Fatalf("NewTracerProvider: %v", err)
	}
	if tp.Tracer() == nil {
		t.Fatal("disabled provider must still hand out a tracer")
	}

	ctx := ContextWithSessionID(context.Background(), "sess-1")
	ctx, span := tp.StartSpan(ctx, SpanAgentQuery, UserAttrs("alice")...)
	if span == nil {
		t.Fatal("StartSpan returned nil span")
	}
	span.End()
	_ = ctx

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestTracerRejectsUnknownExporter(t *testing.T) {
	_, err := NewTracerProvider(TracingConfig{Enabled: true, Exporter: "jaeger"})
	if err == nil || !strings.Contains(err.Error(), "unsupported exporter") {
		t.Fatalf("err = %v, want unsupported exporter", err)
	}
}

func TestErrorAttrs(t *testing.T) {
	if got := ErrorAttrs(nil); got != nil {
		t.Errorf("nil error produced attrs: %v", got)
	}
	attrs := ErrorAttrs(context.DeadlineExceeded)
	if len(attrs) != 2 {
		t.Fatalf("attrs = %v", attrs)
	}
	if string(attrs[0].Key) != AttrError {
		t.Errorf("first attr key = %s", attrs[0].Key)
	}
}
