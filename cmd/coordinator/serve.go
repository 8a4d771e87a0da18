package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"repaircoord/coordination"
)

const (
	shutdownTimeout   = 30 * time.Second
	serverReadTimeout = 10 * time.Second
	// Must exceed adminRequestTimeout so the middleware answers first.
	serverWriteTimeout = 15 * time.Second
	serverIdleTimeout  = 60 * time.Second
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator",
		Long: `Run the coordinator: heartbeat into the liveness registry, compete for the
scheduler lease, sweep orphaned segments while leading and repair segments
under node locks when repair.command is configured.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}
	cmd.Flags().String("http-address", "", "Override http.address")
	mustBind(v, "http.address", cmd.Flags().Lookup("http-address"))
	return cmd
}

func runServe(parent context.Context, v *viper.Viper) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	logger, err := newLogger(v.GetBool("debug"))
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(ctx, cfg, logger, coordination.DefaultMetrics())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			logger.Warn("store_close_failed", zap.Error(err))
		}
	}()

	admin, err := newAdminServer(a)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      newRouter(admin, prometheus.DefaultGatherer),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.liveness.Run(gctx, cfg.Coordination.HeartbeatInterval.Std())
		return nil
	})
	g.Go(func() error {
		a.leader.Run(gctx)
		return nil
	})
	if a.worker != nil {
		g.Go(func() error {
			a.worker.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		a.logger.Info("admin_listening", zap.String("address", cfg.HTTP.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	a.logger.Info("coordinator_started",
		zap.String("store", cfg.Store.Type),
		zap.Bool("worker_enabled", a.worker != nil),
	)
	err = g.Wait()
	a.logger.Info("coordinator_stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
