package server

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/agent"
	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/observability"
)

// Keys under which requireAuth stashes the verified caller in the gin
// context. The raw token is kept because the agent re-verifies it as part
// of its own contract.
const (
	ctxPrincipal   = "principal"
	ctxAccessToken = "accessToken"
)

// requestID tags every request with an id, honoring one the client sent.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := observability.ContextWithRequestID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// accessLog writes one structured line per request. It sits outside
// Recovery so panicking requests still get logged as 500s.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		s.logger.WithContext(c.Request.Context()).Info("request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// trace opens a span per request. With tracing disabled the provider is a
// noop, so this costs nothing.
func (s *Server) trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := s.tracer.StartSpan(c.Request.Context(), observability.SpanHTTPRequest,
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", c.FullPath()),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}

// requireAuth verifies the bearer token and attaches the caller to the
// request context. Failures end the request with 401 before any handler
// runs.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			s.collector.RecordAuthEvent(c.Request.Context(), "verify", "denied")
			s.abortWithError(c, errs.NewAuthError(errs.CodeTokenInvalid, err.Error()))
			return
		}
		verify, err := s.auth.Verify(c.Request.Context(), token)
		if err != nil {
			s.collector.RecordAuthEvent(c.Request.Context(), "verify", authOutcome(err))
			s.abortWithError(c, err)
			return
		}

		principal := agent.Principal{
			UserID:    verify.User.ID,
			Username:  verify.User.Username,
			Role:      verify.User.Role,
			SessionID: verify.Session.ID,
		}
		ctx := agent.WithPrincipal(c.Request.Context(), principal)
		ctx = observability.ContextWithSessionID(ctx, verify.Session.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(ctxPrincipal, principal)
		c.Set(ctxAccessToken, token)
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	scheme, rest, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(rest)
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}

func principalFrom(c *gin.Context) (agent.Principal, bool) {
	value, ok := c.Get(ctxPrincipal)
	if !ok {
		return agent.Principal{}, false
	}
	principal, ok := value.(agent.Principal)
	return principal, ok
}
