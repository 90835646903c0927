package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
)

// apiResponse is the envelope every endpoint returns.
type apiResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

// apiError carries the stable error code verbatim so clients can branch on
// it without parsing messages.
type apiError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeData(c *gin.Context, status int, data any) {
	c.JSON(status, apiResponse{Success: true, Data: data})
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := apiResponse{Error: errorBody(err)}
	if status >= http.StatusInternalServerError {
		s.logger.WithContext(c.Request.Context()).Error("request failed",
			"path", c.Request.URL.Path, "error", err.Error())
	}
	c.JSON(status, body)
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	c.Abort()
	s.writeError(c, err)
}

func errorBody(err error) *apiError {
	var coreErr *errs.CoreError
	if errors.As(err, &coreErr) {
		return &apiError{
			Code:    string(coreErr.Code),
			Message: coreErr.Message,
			Details: coreErr.Details,
		}
	}
	// Untyped errors may carry internals; return only the classification.
	return &apiError{Code: "internal", Message: "internal error"}
}

func statusFor(err error) int {
	switch errs.CodeOf(err) {
	case errs.CodeConfig:
		return http.StatusBadRequest
	case errs.CodeInvalidCredentials, errs.CodeTokenInvalid, errs.CodeSessionExpired, errs.CodeSessionRevoked:
		return http.StatusUnauthorized
	case errs.CodeAccountLocked, errs.CodePermissionDenied:
		return http.StatusForbidden
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeRateLimited:
		return http.StatusTooManyRequests
	case errs.CodeCircuitOpen:
		return http.StatusServiceUnavailable
	case errs.CodeGenerationFailed, errs.CodeRetryExhausted, errs.CodeTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// authOutcome labels an auth failure for metrics. Codes form a small fixed
// set, so cardinality stays bounded.
func authOutcome(err error) string {
	if code := errs.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}
