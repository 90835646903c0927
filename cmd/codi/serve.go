package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/bootstrap"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/config"
	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/server"
)

const shutdownGrace = 15 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var snapshotPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent API server",
		Long: `Serve runs the full runtime: auth, memory, cache, and the HTTP API.
With --cache-snapshot the response cache is warmed from the snapshot at
startup and written back on graceful shutdown, so restarts keep their hits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return runServe(cfg, snapshotPath)
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "cache-snapshot", "", "Cache snapshot file to load at startup and write on shutdown")
	return cmd
}

func runServe(cfg config.Config, snapshotPath string) error {
	logger := logging.NewComponentLogger("serve")

	rt, err := bootstrap.Build(context.Background(), cfg, bootstrap.Options{Telemetry: true})
	if err != nil {
		return err
	}

	if snapshotPath != "" {
		loadSnapshot(rt, snapshotPath, logger)
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
		closeRuntime(rt, logger)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http shutdown: %v", err)
	}

	// Export before Close: Close stops the engine's sweep loop but the
	// snapshot must capture the final state first.
	if snapshotPath != "" {
		if err := rt.Cache.Export(snapshotPath); err != nil {
			logger.Error("cache snapshot write: %v", err)
		} else {
			logger.Info("cache snapshot written to %s", snapshotPath)
		}
	}
	closeRuntime(rt, logger)
	return nil
}

func loadSnapshot(rt *bootstrap.Runtime, path string, logger logging.Logger) {
	n, err := rt.Cache.Import(path)
	switch {
	case errs.IsNotFound(err):
		logger.Info("no cache snapshot at %s yet, starting cold", path)
	case err != nil:
		logger.Warn("cache snapshot load: %v", err)
	default:
		logger.Info("cache warmed with %d entries from %s", n, path)
	}
}

func closeRuntime(rt *bootstrap.Runtime, logger logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := rt.Close(ctx); err != nil {
		logger.Error("runtime close: %v", err)
	}
}
