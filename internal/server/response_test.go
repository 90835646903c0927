package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"config", errs.NewConfigError("bad"), http.StatusBadRequest},
		{"invalid credentials", errs.NewAuthError(errs.CodeInvalidCredentials, "no"), http.StatusUnauthorized},
		{"token invalid", errs.NewAuthError(errs.CodeTokenInvalid, "no"), http.StatusUnauthorized},
		{"session expired", errs.NewAuthError(errs.CodeSessionExpired, "no"), http.StatusUnauthorized},
		{"session revoked", errs.NewAuthError(errs.CodeSessionRevoked, "no"), http.StatusUnauthorized},
		{"account locked", errs.NewAuthError(errs.CodeAccountLocked, "no"), http.StatusForbidden},
		{"permission denied", errs.NewPermissionDenied("no"), http.StatusForbidden},
		{"not found", errs.NewNotFound("user", "x"), http.StatusNotFound},
		{"rate limited", errs.NewAuthError(errs.CodeRateLimited, "slow down"), http.StatusTooManyRequests},
		{"circuit open", errs.NewCircuitOpenError("llm", time.Second), http.StatusServiceUnavailable},
		{"generation failed", errs.NewGenerationFailed(errors.New("boom")), http.StatusBadGateway},
		{"retry exhausted", errs.NewRetryExhausted(3, errors.New("boom")), http.StatusBadGateway},
		{"wrapped core error", fmt.Errorf("handler: %w", errs.NewPermissionDenied("no")), http.StatusForbidden},
		{"untyped", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := statusFor(tc.err); got != tc.want {
				t.Errorf("statusFor = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestErrorBodyKeepsCoreShape(t *testing.T) {
	body := errorBody(errs.NewNotFound("entry", "abc"))
	if body.Code != string(errs.CodeNotFound) {
		t.Errorf("code = %q", body.Code)
	}
	if body.Message == "" {
		t.Error("empty message")
	}
}

func TestErrorBodyHidesUntypedDetails(t *testing.T) {
	body := errorBody(errors.New("dial tcp 10.0.0.5:5432: connection refused"))
	if body.Code != "internal" {
		t.Errorf("code = %q, want internal", body.Code)
	}
	if body.Message != "internal error" {
		t.Errorf("message = %q leaks the underlying error", body.Message)
	}
}
