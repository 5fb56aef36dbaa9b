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

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/consult-lifecycle/internal/config"
	"github.com/jwalitptl/consult-lifecycle/internal/handler/cases"
	"github.com/jwalitptl/consult-lifecycle/internal/handler/health"
	promhandler "github.com/jwalitptl/consult-lifecycle/internal/handler/prometheus"
	"github.com/jwalitptl/consult-lifecycle/internal/middleware"
	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/internal/repository"
	"github.com/jwalitptl/consult-lifecycle/internal/repository/memory"
	"github.com/jwalitptl/consult-lifecycle/internal/repository/postgres"
	"github.com/jwalitptl/consult-lifecycle/internal/router"
	"github.com/jwalitptl/consult-lifecycle/internal/service/lifecycle"
	"github.com/jwalitptl/consult-lifecycle/internal/service/permission"
	"github.com/jwalitptl/consult-lifecycle/internal/service/reschedule"
	"github.com/jwalitptl/consult-lifecycle/internal/service/settlement"
	"github.com/jwalitptl/consult-lifecycle/pkg/auth"
	"github.com/jwalitptl/consult-lifecycle/pkg/circuitbreaker"
	"github.com/jwalitptl/consult-lifecycle/pkg/lock"
	"github.com/jwalitptl/consult-lifecycle/pkg/logger"
	"github.com/jwalitptl/consult-lifecycle/pkg/messaging/provider"
	"github.com/jwalitptl/consult-lifecycle/pkg/messaging/redis"
	"github.com/jwalitptl/consult-lifecycle/pkg/metrics"
	"github.com/jwalitptl/consult-lifecycle/pkg/payment"
	"github.com/jwalitptl/consult-lifecycle/pkg/validator"
	"github.com/jwalitptl/consult-lifecycle/pkg/worker"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "consult-api",
		Short: "Case and appointment lifecycle API",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var withOutbox bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(withOutbox)
		},
	}
	cmd.Flags().BoolVar(&withOutbox, "with-outbox", false, "publish outbox events from this process")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

			db, err := postgres.NewDB(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
			log.Info("Schema applied", "database", cfg.Database.Name)
			return nil
		},
	}
}

// tokenCmd issues a bearer token for local testing.
func tokenCmd() *cobra.Command {
	var (
		role     string
		subject  string
		patients []string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			actor := model.Actor{Role: model.Role(role), ID: uuid.New()}
			if subject != "" {
				if actor.ID, err = uuid.Parse(subject); err != nil {
					return fmt.Errorf("invalid subject: %w", err)
				}
			}
			for _, p := range patients {
				id, err := uuid.Parse(p)
				if err != nil {
					return fmt.Errorf("invalid patient id %q: %w", p, err)
				}
				actor.PatientIDs = append(actor.PatientIDs, id)
			}
			token, err := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Issue(actor, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(model.RolePatient), "PATIENT, SUPERVISOR, DOCTOR or ADMIN")
	cmd.Flags().StringVar(&subject, "sub", "", "actor id (random when empty)")
	cmd.Flags().StringSliceVar(&patients, "patients", nil, "patient ids a supervisor acts for")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

type infra struct {
	store  repository.Store
	db     *sqlx.DB
	redis  *goredis.Client
	locker lock.Locker
}

func (i *infra) Close() {
	if i.redis != nil {
		i.redis.Close()
	}
	if i.db != nil {
		i.db.Close()
	}
}

func openInfra(ctx context.Context, cfg *config.Config) (*infra, error) {
	i := &infra{}
	switch cfg.Database.Driver {
	case "memory":
		i.store = memory.NewStore()
	default:
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			return nil, err
		}
		i.db = db
		i.store = postgres.NewStore(db)
	}

	if cfg.Lock.Driver == "redis" || cfg.Broker.Driver == "redis" {
		client, err := redis.NewClient(ctx, redis.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			RetryBackoff: cfg.Redis.RetryBackoff,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err != nil {
			i.Close()
			return nil, err
		}
		i.redis = client
	}

	if cfg.Lock.Driver == "redis" {
		i.locker = lock.NewRedis(i.redis)
	} else {
		i.locker = lock.NewMemory()
	}
	return i, nil
}

func runServer(withOutbox bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inf, err := openInfra(ctx, cfg)
	if err != nil {
		return err
	}
	defer inf.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, cfg.Metrics.Namespace)

	processor := payment.NewHTTPProcessor(payment.HTTPConfig{
		BaseURL: cfg.Payment.BaseURL,
		APIKey:  cfg.Payment.APIKey,
		Timeout: cfg.Payment.Timeout,
		Breaker: circuitbreaker.Settings{
			ConsecutiveFailures: cfg.Payment.Breaker.ConsecutiveFailures,
			Timeout:             cfg.Payment.Breaker.OpenTimeout,
		},
	}, &http.Client{})

	coordinator := settlement.NewCoordinator(processor, inf.locker, settlement.Config{
		ChargeTimeout: cfg.Payment.Timeout,
		LeaseTTL:      cfg.Lock.TTL,
	}, log, m)

	svc := lifecycle.NewService(
		inf.store,
		inf.locker,
		permission.NewMatrix(),
		coordinator,
		reschedule.NewProtocol(),
		validator.New(),
		lifecycle.Config{
			LockTTL:  cfg.Lock.TTL,
			LockWait: cfg.Lock.Wait,
		},
		log,
		m,
	)

	validator.RegisterGinEngine()
	r := router.NewRouter(
		cfg.Server,
		cfg.Idempotency,
		middleware.NewAuthMiddleware(auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer)),
		cases.NewHandler(svc),
		health.NewHandler(inf.store),
		promhandler.New(reg, m),
		log,
	)
	r.Setup()

	if withOutbox {
		broker, err := provider.NewBroker(ctx, cfg, inf.redis, log)
		if err != nil {
			return err
		}
		defer broker.Close()

		outbox := worker.NewOutboxProcessor(inf.store.Outbox(), broker, worker.OutboxProcessorConfig{
			Topic:        cfg.Events.Topic,
			BatchSize:    cfg.Outbox.Batch,
			PollInterval: cfg.Outbox.Interval,
			MaxRetries:   cfg.Outbox.MaxRetries,
			RetryDelay:   cfg.Outbox.RetryDelay,
		}, log, m)
		go outbox.Start(ctx)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", "port", cfg.Server.Port, "database", cfg.Database.Driver, "lock", cfg.Lock.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	log.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server exited properly")
	return nil
}
