// Package server is the HTTP face of the agent: login and token rotation,
// the query endpoint, operational stats, and liveness probes. Handlers
// translate between wire shapes and the component APIs and never hold
// domain state; everything they return comes from the agent, the auth
// service, or the health registry.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/agent"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/auth"
	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/health"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/llm"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/observability"
)

const (
	// DefaultReadTimeout bounds how long a client may take to send a request.
	DefaultReadTimeout = 30 * time.Second
	// DefaultWriteTimeout bounds a full response, including a cold generate
	// that runs through the retry policy.
	DefaultWriteTimeout = 2 * time.Minute
	// DefaultShutdownTimeout is how long Shutdown waits for in-flight
	// requests before closing the listener.
	DefaultShutdownTimeout = 10 * time.Second
)

// Config tunes the HTTP listener. Zero values take the stated defaults.
type Config struct {
	Addr            string        // default ":8080"
	AllowedOrigins  []string      // empty allows all origins
	ReadTimeout     time.Duration // default DefaultReadTimeout
	WriteTimeout    time.Duration // default DefaultWriteTimeout
	ShutdownTimeout time.Duration // default DefaultShutdownTimeout
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return c
}

// Dependencies carries the components the server fronts. Agent and Auth are
// required; the rest degrade to no-ops when absent.
type Dependencies struct {
	Agent          *agent.Agent
	Auth           *auth.Service
	Health         *llm.HealthRegistry
	Probes         *health.Registry
	Collector      *observability.Collector
	ContextMetrics *observability.ContextMetrics
	Tracer         *observability.TracerProvider
	Logger         *observability.Logger
}

// Server owns the gin engine and the http.Server wrapped around it.
type Server struct {
	config Config

	agent          *agent.Agent
	auth           *auth.Service
	health         *llm.HealthRegistry
	probes         *health.Registry
	collector      *observability.Collector
	contextMetrics *observability.ContextMetrics
	tracer         *observability.TracerProvider
	logger         *observability.Logger

	engine     *gin.Engine
	httpServer *http.Server
	startTime  time.Time
}

// New validates the wiring and builds the routing tree. The listener is not
// opened until Start.
func New(config Config, deps Dependencies) (*Server, error) {
	if deps.Agent == nil {
		return nil, errs.NewConfigError("server requires the agent")
	}
	if deps.Auth == nil {
		return nil, errs.NewConfigError("server requires the auth service")
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.LogConfig{})
	}
	if deps.Tracer == nil {
		deps.Tracer, _ = observability.NewTracerProvider(observability.TracingConfig{})
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:         config.withDefaults(),
		agent:          deps.Agent,
		auth:           deps.Auth,
		health:         deps.Health,
		probes:         deps.Probes,
		collector:      deps.Collector,
		contextMetrics: deps.ContextMetrics,
		tracer:         deps.Tracer,
		logger:         deps.Logger,
		startTime:      time.Now(),
	}

	engine := gin.New()
	engine.Use(s.requestID())
	engine.Use(s.accessLog())
	engine.Use(gin.Recovery())
	engine.Use(s.trace())

	corsConfig := cors.DefaultConfig()
	if len(s.config.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.config.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	engine.Use(cors.New(corsConfig))

	s.engine = engine
	s.routes()

	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           engine,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/readyz", s.handleReady)

	v1 := s.engine.Group("/v1")
	{
		authGroup := v1.Group("/auth")
		authGroup.POST("/login", s.handleLogin)
		authGroup.POST("/refresh", s.handleRefresh)
		authGroup.POST("/logout", s.requireAuth(), s.handleLogout)

		v1.POST("/query", s.requireAuth(), s.handleQuery)
		v1.GET("/cache/stats", s.requireAuth(), s.handleCacheStats)
	}
}

// Handler exposes the routing tree so tests can drive it without a listener.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start opens the listener and blocks until Shutdown is called or the
// listener fails.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.config.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests, giving up after the configured
// shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
