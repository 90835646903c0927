package errors

import (
	"fmt"
	"testing"
)

func TestClassifyHTTPStatusErrors(t *testing.T) {
	tests := []struct {
		err       error
		transient bool
	}{
		{fmt.Errorf("API error: status 429"), true},
		{fmt.Errorf("upstream returned 503"), true},
		{fmt.Errorf("gateway timeout 504"), true},
		{fmt.Errorf("API error: status 401"), false},
		{fmt.Errorf("bad request 400"), false},
		{fmt.Errorf("resource gone 410"), false},
	}
	for _, tc := range tests {
		if got := IsTransient(tc.err); got != tc.transient {
			t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.transient)
		}
	}
}

func TestClassifyNetworkErrorStrings(t *testing.T) {
	for _, msg := range []string{
		"dial tcp 127.0.0.1:8080: connection refused",
		"context deadline exceeded",
		"read: connection reset by peer",
	} {
		if !IsTransient(fmt.Errorf("%s", msg)) {
			t.Fatalf("expected %q to classify transient", msg)
		}
	}
}

func TestExplicitMarkersWinOverHeuristics(t *testing.T) {
	// A permanent marker around text that looks transient stays permanent.
	err := NewPermanentError(fmt.Errorf("connection refused"), "")
	if IsTransient(err) {
		t.Fatal("permanent marker must override heuristics")
	}
	if !IsPermanent(err) {
		t.Fatal("expected permanent classification")
	}
}

func TestGetErrorTypeDefaultsToPermanent(t *testing.T) {
	if got := GetErrorType(fmt.Errorf("mystery failure")); got != ErrorTypePermanent {
		t.Fatalf("expected permanent default, got %v", got)
	}
	if got := GetErrorType(NewDegradedError(nil, "partial", "fallback")); got != ErrorTypeDegraded {
		t.Fatalf("expected degraded, got %v", got)
	}
}
