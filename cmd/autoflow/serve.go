package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rendis/autoflow/pkg/mcp"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and serve MCP tools on stdio",
	Long: `serve restores the schedule jobs of every active SCHEDULE workflow,
starts the scheduler, optionally exposes Prometheus metrics, and serves the
autoflow MCP tools over stdin/stdout until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			cfg.MetricsAddr = addr
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", "", "Listen address for /metrics and /health (overrides metrics_addr)")
	rootCmd.AddCommand(serveCmd)
}

func serve(parent context.Context, cfg *Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			a.logger.Error("shutdown incomplete", "error", err)
		}
	}()

	loaded, err := a.scheduler.LoadActive(ctx)
	if err != nil {
		return err
	}
	a.scheduler.Start()
	a.logger.Info("autoflow serving", "version", version, "schedules", loaded, "db", cfg.DBPath)

	srv := mcp.NewAutoflowServer(mcp.AutoflowServerDeps{
		Runner:     a.executor,
		Router:     a.router,
		Scheduler:  a.scheduler,
		Workflows:  a.store,
		Executions: a.store,
		Events:     a.events,
		Version:    version,
		Logger:     a.logger,
	})

	// The MCP session ending (stdin closed) stops the metrics server too.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.Serve(gctx)
		stop()
		return err
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return a.metrics.Serve(gctx, cfg.MetricsAddr) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
