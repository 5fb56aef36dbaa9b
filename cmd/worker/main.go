package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/consult-lifecycle/internal/config"
	"github.com/jwalitptl/consult-lifecycle/internal/handler/health"
	promhandler "github.com/jwalitptl/consult-lifecycle/internal/handler/prometheus"
	"github.com/jwalitptl/consult-lifecycle/internal/repository/postgres"
	"github.com/jwalitptl/consult-lifecycle/pkg/logger"
	"github.com/jwalitptl/consult-lifecycle/pkg/messaging/provider"
	"github.com/jwalitptl/consult-lifecycle/pkg/metrics"
	"github.com/jwalitptl/consult-lifecycle/pkg/worker"
)

func main() {
	var (
		configPath string
		healthAddr string
	)
	rootCmd := &cobra.Command{
		Use:   "consult-worker",
		Short: "Outbox publisher, audit sink and retention cleanup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, healthAddr)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.Flags().StringVar(&healthAddr, "health-addr", ":8081", "address of the health and metrics endpoint")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath, healthAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("the worker needs a shared database, got driver %q", cfg.Database.Driver)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty).WithFields(map[string]interface{}{"component": "worker"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	store := postgres.NewStore(db)

	broker, err := provider.NewBroker(ctx, cfg, nil, log)
	if err != nil {
		return fmt.Errorf("failed to create %s broker: %w", cfg.Broker.Driver, err)
	}
	defer broker.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, cfg.Metrics.Namespace)

	processor := worker.NewOutboxProcessor(store.Outbox(), broker, worker.OutboxProcessorConfig{
		Topic:        cfg.Events.Topic,
		BatchSize:    cfg.Outbox.Batch,
		PollInterval: cfg.Outbox.Interval,
		MaxRetries:   cfg.Outbox.MaxRetries,
		RetryDelay:   cfg.Outbox.RetryDelay,
	}, log, m)
	sink := worker.NewAuditSink(broker, store.Audit(), cfg.Events.Topic, log)
	cleanup := worker.NewAuditCleanupWorker(store.Audit(), store.Outbox(), cfg.Audit.Retention, cfg.Audit.CleanupInterval, log)

	srv := healthServer(healthAddr, store, reg, m)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "Health check server failed")
			stop()
		}
	}()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := sink.Start(ctx); err != nil {
			log.Error(err, "Audit sink stopped")
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()

	log.Info("Worker started", "broker", cfg.Broker.Driver, "topic", cfg.Events.Topic)
	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	wg.Wait()
	return nil
}

func healthServer(addr string, store *postgres.Store, reg *prometheus.Registry, m *metrics.Metrics) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	health.NewHandler(store).RegisterRoutes(engine)
	engine.GET("/metrics", promhandler.New(reg, m).Handler())
	return &http.Server{Addr: addr, Handler: engine}
}
