// Command codi-server runs the headless agent API. It is the deployment
// entry point; the codi CLI wraps the same runtime for operator work.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/bootstrap"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/config"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/server"
)

const shutdownGrace = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "codi-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, _, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewComponentLogger("main")
	logger.Info("codi-server %s starting (llm=%s, addr=%s)", bootstrap.Version, cfg.LLM.Provider, cfg.Server.Addr)

	rt, err := bootstrap.Build(context.Background(), cfg, bootstrap.Options{Telemetry: true})
	if err != nil {
		return err
	}
	rt.Probes.Start(context.Background())

	if cfg.Server.MetricsAddr != "" {
		if err := rt.Collector.StartServer(cfg.Server.MetricsAddr); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
	}

	srv, err := server.New(server.Config{Addr: cfg.Server.Addr}, server.Dependencies{
		Agent:          rt.Agent,
		Auth:           rt.Auth,
		Health:         rt.Health,
		Probes:         rt.Probes,
		Collector:      rt.Collector,
		ContextMetrics: rt.ContextMetrics,
		Tracer:         rt.Tracer,
		Logger:         rt.ServerLogger,
	})
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received %s, shutting down", sig)
	case err := <-serveErr:
		// Startup failures (busy port, bad addr) land here before any
		// signal arrives; still close the runtime so stores flush.
		closeRuntime(rt, logger)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http shutdown: %v", err)
	}
	closeRuntime(rt, logger)
	logger.Info("codi-server stopped")
	return nil
}

func closeRuntime(rt *bootstrap.Runtime, logger logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := rt.Close(ctx); err != nil {
		logger.Error("runtime close: %v", err)
	}
}
