package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/monkut/servembtiles/internal/config"
	"github.com/monkut/servembtiles/internal/health"
	"github.com/monkut/servembtiles/internal/mbtiles"
	"github.com/monkut/servembtiles/internal/metrics"
	"github.com/monkut/servembtiles/internal/server"
	"github.com/monkut/servembtiles/internal/service"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve tiles and metadata over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath, cmd.Flags())
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}

	flags := cmd.Flags()
	addArchiveFlags(flags)
	flags.StringP("address", "a", "localhost", "address to bind the tile server to")
	flags.IntP("port", "p", 8005, "port of the tile server")

	return cmd
}

// serve runs the tile server, and the admin server when metrics are
// enabled, until ctx is done or a server fails.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) (err error) {
	logger.Info("starting servembtiles",
		zap.String("filepath", cfg.Archive.Path),
		zap.String("tile_ext", cfg.Archive.TileExt),
		zap.String("scheme", cfg.Archive.Scheme),
		zap.String("address", cfg.Server.Address),
		zap.Int("port", cfg.Server.Port),
		zap.String("sqlite_driver", mbtiles.DriverType()),
	)

	opts, err := cfg.ServiceOptions()
	if err != nil {
		return err
	}
	opts.ArchiveOptions = append(opts.ArchiveOptions, mbtiles.WithMaxOpenConns(cfg.Archive.MaxOpenConns))

	// Initialize metrics
	var m *metrics.Metrics
	var statusRecorder health.StatusRecorder
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics()
		opts.Recorder = m
		opts.ArchiveOptions = append(opts.ArchiveOptions, mbtiles.WithObserver(m))
		statusRecorder = m
	}

	svc, err := service.New(ctx, opts, logger)
	if err != nil {
		logger.Error("failed to open tile archive", zap.Error(err))
		return err
	}
	defer func() { err = errs.Combine(err, svc.Close()) }()

	hc := health.NewHealthCheck(svc, statusRecorder, logger)
	if err := hc.Check(ctx); err != nil {
		logger.Warn("initial health check failed", zap.Error(err))
	}
	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()
	go hc.Run(healthCtx)

	errChan := make(chan error, 2)

	// Start metrics server if enabled
	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, logger)
		metricsServer.Handle("/health", http.HandlerFunc(hc.LivenessHandler))
		metricsServer.Handle("/ready", http.HandlerFunc(hc.ReadinessHandler))
		go func() {
			if err := metricsServer.Start(); err != nil {
				errChan <- err
			}
		}()
		logger.Info("metrics server started",
			zap.Int("port", cfg.Metrics.Port),
			zap.String("path", cfg.Metrics.Path),
		)
	}

	// Initialize HTTP server
	httpServer := server.NewServer(cfg, svc, m, logger)
	httpServer.SetupRoutes()

	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-errChan:
		logger.Error("server error", zap.Error(runErr))
	}

	// Graceful shutdown
	logger.Info("initiating graceful shutdown")
	if m != nil {
		m.SetHealthStatus(false)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var group errs.Group
	group.Add(runErr)
	group.Add(httpServer.Shutdown(shutdownCtx))
	if metricsServer != nil {
		group.Add(metricsServer.Shutdown(shutdownCtx))
	}

	logger.Info("servembtiles shutdown complete")
	return group.Err()
}
