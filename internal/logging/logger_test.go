package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestOrNopHandlesTypedNilPointers(t *testing.T) {
	var typed *textLogger
	var logger Logger = typed
	if !IsNil(logger) {
		t.Fatalf("expected typed nil pointer to be detected")
	}
	safe := OrNop(logger)
	if IsNil(safe) {
		t.Fatalf("expected OrNop to return a usable logger")
	}
	safe.Info("hello %s", "world") // should not panic
}

func TestTextLoggerFiltersByLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(buf, LevelWarn, "test")

	logger.Debug("debug %d", 1)
	logger.Info("info %d", 2)
	logger.Warn("warn %d", 3)
	logger.Error("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Fatalf("expected debug/info to be filtered, got: %s", out)
	}
	if !strings.Contains(out, "warn 3") || !strings.Contains(out, "error 4") {
		t.Fatalf("expected warn/error in output, got: %s", out)
	}
}

func TestTextLoggerIncludesComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(buf, LevelDebug, "cache")

	logger.Info("ready")

	if !strings.Contains(buf.String(), "[cache]") {
		t.Fatalf("expected component tag in output, got: %s", buf.String())
	}
}

func TestMultiFansOutAndFlattens(t *testing.T) {
	a := &bytes.Buffer{}
	b := &bytes.Buffer{}
	inner := Multi(New(a, LevelDebug, ""), nil)
	logger := Multi(inner, New(b, LevelDebug, ""))

	logger.Info("broadcast")

	if !strings.Contains(a.String(), "broadcast") || !strings.Contains(b.String(), "broadcast") {
		t.Fatalf("expected both sinks to receive the message")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}
	for _, tc := range tests {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
