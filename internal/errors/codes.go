package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Code identifies a stable, machine-readable error kind. Codes are part of
// the public surface: API responses and audit entries carry them verbatim.
type Code string

const (
	CodeConfig             Code = "config_error"
	CodeInvalidCredentials Code = "invalid_credentials"
	CodeAccountLocked      Code = "account_locked"
	CodeSessionExpired     Code = "session_expired"
	CodeSessionRevoked     Code = "session_revoked"
	CodeTokenInvalid       Code = "token_invalid"
	CodeRateLimited        Code = "rate_limited"
	CodePermissionDenied   Code = "permission_denied"
	CodeNotFound           Code = "not_found"
	CodeCorrupt            Code = "corrupt"
	CodeKeyMissing         Code = "key_missing"
	CodeTransient          Code = "transient"
	CodeCircuitOpen        Code = "circuit_open"
	CodeRetryExhausted     Code = "retry_exhausted"
	CodeGenerationFailed   Code = "generation_failed"
)

// CoreError is the error shape surfaced to callers: a stable code, a human
// message, and a details map that never echoes secrets.
type CoreError struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// WithDetail returns the error with a sanitized detail attached.
func (e *CoreError) WithDetail(key string, value any) *CoreError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	if isSensitiveKey(key) {
		e.Details[key] = redactedPlaceholder
		return e
	}
	e.Details[key] = value
	return e
}

const redactedPlaceholder = "[REDACTED]"

var sensitiveKeyFragments = []string{
	"password", "secret", "token", "credential", "apikey", "api_key", "jwt", "authorization",
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// SanitizeDetails returns a copy of details with sensitive values redacted.
func SanitizeDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	clean := make(map[string]any, len(details))
	for k, v := range details {
		if isSensitiveKey(k) {
			clean[k] = redactedPlaceholder
			continue
		}
		clean[k] = v
	}
	return clean
}

// newCoreError builds a CoreError with sanitized details.
func newCoreError(code Code, message string, err error, details map[string]any) *CoreError {
	return &CoreError{Code: code, Message: message, Err: err, Details: SanitizeDetails(details)}
}

// NewConfigError reports missing or weak configuration. Fatal at startup.
func NewConfigError(message string) *CoreError {
	return newCoreError(CodeConfig, message, nil, nil)
}

// NewAuthError reports an authentication failure of the given kind.
func NewAuthError(code Code, message string) *CoreError {
	return newCoreError(code, message, nil, nil)
}

// NewPermissionDenied reports a missing permission.
func NewPermissionDenied(reason string) *CoreError {
	return newCoreError(CodePermissionDenied, reason, nil, nil)
}

// NewNotFound reports an absent user, session, cache entry, or document.
func NewNotFound(kind, id string) *CoreError {
	return newCoreError(CodeNotFound, fmt.Sprintf("%s %q not found", kind, id), nil, nil)
}

// NewCorruptError reports an encrypted blob that failed authentication or a
// version check.
func NewCorruptError(message string, err error) *CoreError {
	return newCoreError(CodeCorrupt, message, err, nil)
}

// NewKeyError reports a read attempted without a configured encryption key.
func NewKeyError(store string) *CoreError {
	return newCoreError(CodeKeyMissing, fmt.Sprintf("no encryption key configured for store %q", store), nil, nil)
}

// NewCircuitOpenError reports a call shed by an open circuit breaker.
func NewCircuitOpenError(name string, retryIn time.Duration) *CoreError {
	e := newCoreError(CodeCircuitOpen, fmt.Sprintf("circuit breaker open for %s", name), nil, nil)
	return e.WithDetail("retry_in_ms", retryIn.Milliseconds())
}

// NewRetryExhausted wraps the last error after the retry policy gave up.
func NewRetryExhausted(attempts int, err error) *CoreError {
	e := newCoreError(CodeRetryExhausted, fmt.Sprintf("gave up after %d attempts", attempts), err, nil)
	return e.WithDetail("attempts", attempts)
}

// NewGenerationFailed reports a downstream LLM call that failed permanently
// or exhausted its retries.
func NewGenerationFailed(err error) *CoreError {
	return newCoreError(CodeGenerationFailed, "generation failed", err, nil)
}

// CodeOf extracts the code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var coreErr *CoreError
	if errors.As(err, &coreErr) {
		return coreErr.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsConfigError reports whether err is fatal-at-startup configuration.
func IsConfigError(err error) bool { return HasCode(err, CodeConfig) }

// IsAuthError reports whether err is one of the authentication error kinds.
func IsAuthError(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidCredentials, CodeAccountLocked, CodeSessionExpired, CodeSessionRevoked, CodeTokenInvalid, CodeRateLimited:
		return true
	}
	return false
}

// IsPermissionDenied reports whether err is a permission failure.
func IsPermissionDenied(err error) bool { return HasCode(err, CodePermissionDenied) }

// IsNotFound reports whether err is an absent-entity error.
func IsNotFound(err error) bool { return HasCode(err, CodeNotFound) }

// IsCorrupt reports whether err is a blob authentication or version failure.
func IsCorrupt(err error) bool { return HasCode(err, CodeCorrupt) }

// IsKeyMissing reports whether err is a missing-encryption-key error.
func IsKeyMissing(err error) bool { return HasCode(err, CodeKeyMissing) }

// IsCircuitOpen reports whether err came from an open breaker.
func IsCircuitOpen(err error) bool { return HasCode(err, CodeCircuitOpen) }

// IsRetryExhausted reports whether err is an exhausted retry policy.
func IsRetryExhausted(err error) bool { return HasCode(err, CodeRetryExhausted) }

// IsRateLimited reports whether err is a rate-limit rejection.
func IsRateLimited(err error) bool { return HasCode(err, CodeRateLimited) }

// IsGenerationFailed reports whether err is a failed downstream generation.
func IsGenerationFailed(err error) bool { return HasCode(err, CodeGenerationFailed) }
