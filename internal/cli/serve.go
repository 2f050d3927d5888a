package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-heal/internal/api"
	"github.com/miradorstack/mirador-heal/internal/heartbeat"
	"github.com/miradorstack/mirador-heal/internal/metrics"
)

// NewServeCommand runs the HTTP API, gRPC health, heartbeat emitter,
// scheduler and janitor in one process.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var noEmitter bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and its APIs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, opts, func(app *App) error {
				return serve(ctx, stop, app, !noEmitter)
			})
		},
	}
	cmd.Flags().BoolVar(&noEmitter, "no-heartbeat", false, "do not emit heartbeats from this process")
	return cmd
}

func serve(ctx context.Context, stop context.CancelFunc, app *App, emit bool) error {
	cfg, logger := app.Config, app.Logger
	logger.Info("starting mirador-heal", slog.String("http", cfg.Server.HTTPAddress), slog.String("grpc", cfg.Server.GRPCAddress))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	router := api.NewRouter(api.NewHandlers(app.Service, logger), app.Authorizer, app.Store, logger)
	httpServer, err := api.NewHTTPServer(cfg.Server.HTTPAddress, router)
	if err != nil {
		return err
	}

	var grpcServer *api.GRPCServer
	if cfg.Server.GRPCAddress != "" {
		if grpcServer, err = api.NewGRPCServer(cfg.Server, logger); err != nil {
			return err
		}
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
	}

	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	spawn(func() {
		if err := httpServer.Start(); err != nil {
			logger.Error("http server exited", slog.Any("error", err))
			stop()
		}
	})
	if grpcServer != nil {
		spawn(func() {
			if err := grpcServer.Start(); err != nil {
				logger.Error("gRPC server exited", slog.Any("error", err))
				stop()
			}
		})
		spawn(func() { grpcServer.WatchHeartbeat(ctx, cfg.Heartbeat.Interval, app.Service.HeartbeatFresh) })
	}
	if metricsServer != nil {
		spawn(func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		})
	}
	if emit {
		emitter := heartbeat.NewEmitter(app.Heartbeats, cfg.Heartbeat.Source, cfg.Heartbeat.Interval, cfg.Database.Timeout, logger)
		spawn(func() { emitter.Run(ctx) })
	}
	spawn(func() { app.Scheduler.Run(ctx) })
	spawn(func() { app.Janitor.Run(ctx) })

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
	}
	wg.Wait()
	logger.Info("mirador-heal stopped", slog.Duration("trigger_p95", app.Service.TriggerLatencyP95()))
	return nil
}
