package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tableside/internal/api"
	"tableside/internal/config"
	"tableside/internal/database"
	"tableside/internal/metrics"
	"tableside/internal/pricing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, sweeps and notification workers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, &logger)
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	metrics.Register()

	srv := api.NewServer(api.Deps{
		Lifecycle:   a.lifecycle,
		Settlement:  a.settlement,
		Inventory:   a.inventory,
		Subscribers: a.db,
		Redis:       a.rdb,
	}, cfg, logger)
	health := api.NewHealthServer(logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := config.WatchTables(ctx, cfg.TablesConfigPath, logger, func(tc *config.TablesConfig) {
			if err := a.inventory.Sync(ctx, tc); err != nil {
				logger.Error().Err(err).Msg("failed to apply tables config")
				return
			}
			a.alloc.Refresh(ctx)
		})
		if err != nil {
			logger.Error().Err(err).Msg("tables watcher stopped")
		}
		return nil
	})

	g.Go(func() error {
		database.NewBackupService(a.db, cfg.Backup, logger).Start(ctx)
		return nil
	})

	a.dispatcher.Start(ctx)
	a.reconciler.Start(ctx)
	defer a.reconciler.Stop()
	defer a.dispatcher.Stop()

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		health.SetServing(false)
		return srv.Shutdown(context.Background())
	})

	if cfg.GRPC.Address != "" {
		g.Go(func() error { return health.Serve(ctx, cfg.GRPC.Address) })
	}
	g.Go(func() error {
		return runHTTP(ctx, fmt.Sprintf(":%d", cfg.Monitoring.HealthCheckPort), healthMux(ctx, a.db, a.rdb, a.pricing), logger)
	})
	if cfg.Monitoring.PrometheusEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		g.Go(func() error {
			return runHTTP(ctx, fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort), mux, logger)
		})
	}

	health.SetServing(true)
	logger.Info().Msg("tableside started")
	err = g.Wait()
	logger.Info().Msg("tableside stopped")
	return err
}

func healthMux(ctx context.Context, db *database.DB, rdb *redis.Client, prices *pricing.Client) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		if err := prices.HealthCheck(ctxPing); err != nil {
			http.Error(w, "pricing not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

// runHTTP serves handler on addr until ctx is done.
func runHTTP(ctx context.Context, addr string, handler http.Handler, logger *zerolog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Str("address", addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
