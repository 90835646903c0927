package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
)

// wrapRequestError classifies a transport-level failure. Cancellation
// passes through untouched so callers can tell an abort from an outage.
func wrapRequestError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return errs.NewTransientError(err, "LLM request timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.NewTransientError(err, "LLM request timed out")
	}
	return errs.NewTransientError(err, "LLM endpoint unreachable")
}

// mapHTTPError classifies a non-2xx response. Client errors are permanent
// except 408 and 429; 429 carries the server's Retry-After along so backoff
// can honor it.
func mapHTTPError(status int, body []byte, headers http.Header) error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	baseErr := fmt.Errorf("llm api status %d: %s", status, msg)

	switch {
	case status == http.StatusTooManyRequests:
		return &errs.TransientError{
			Err:        baseErr,
			StatusCode: status,
			RetryAfter: parseRetryAfter(headers.Get("Retry-After")),
			Message:    "LLM rate limited upstream",
		}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &errs.TransientError{Err: baseErr, StatusCode: status, Message: "LLM request timed out upstream"}
	case status >= 500:
		return &errs.TransientError{Err: baseErr, StatusCode: status, Message: "LLM endpoint failing"}
	case status >= 400:
		return &errs.PermanentError{Err: baseErr, StatusCode: status, Message: msg}
	default:
		return &errs.TransientError{Err: baseErr, StatusCode: status, Message: "unexpected LLM response"}
	}
}

// parseRetryAfter reads an integer-seconds Retry-After value. Dates and
// junk map to 0, meaning "use the normal backoff".
func parseRetryAfter(value string) int {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs < 0 {
		return 0
	}
	return secs
}
