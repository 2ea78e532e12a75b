package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/accounts/internal/config"
	"github.com/congo-pay/accounts/internal/infra"
	"github.com/congo-pay/accounts/internal/logging"
	"github.com/congo-pay/accounts/internal/notification"
	"github.com/congo-pay/accounts/internal/routes"
	"github.com/congo-pay/accounts/internal/server"
)

const connectTimeout = 10 * time.Second

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, slog.String("service", cfg.AppName), slog.String("env", cfg.AppEnv))

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewPostgresPool(startCtx, cfg.DatabaseURL, connectTimeout)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		db = pool
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(startCtx, cfg.RedisURL, cfg.StoreTimeout)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		cache = client
	} else {
		logger.Warn("REDIS_URL not set, idempotency, rate limiting and profile cache disabled")
	}

	var (
		publisher notification.Publisher
		broker    routes.Pinger
	)
	if cfg.RabbitMQURL != "" {
		dial, err := infra.RabbitDialer(cfg.RabbitMQURL)
		if err != nil {
			return err
		}
		rabbit := notification.NewRabbitPublisher(dial, logger)
		if err := rabbit.Connect(); err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		defer rabbit.Close()
		publisher, broker = rabbit, rabbit
	} else {
		logger.Warn("RABBITMQ_URL not set, notifications are logged only")
		publisher = notification.NewLoggerPublisher(logger)
	}

	var outbox notification.Outbox
	if db != nil {
		outbox = notification.NewPostgresOutbox(db)
	} else {
		outbox = notification.NewMemoryOutbox()
	}

	srv, err := server.New(routes.Deps{
		Cfg:    cfg,
		DB:     db,
		Cache:  cache,
		Broker: broker,
		Outbox: outbox,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	dispatcher := notification.NewDispatcher(outbox, publisher, logger, notification.DispatcherConfig{
		BatchSize:      cfg.OutboxBatchSize,
		PollInterval:   cfg.OutboxPollInterval,
		PublishTimeout: cfg.PublishTimeout,
	})

	scheduler := cron.New()
	pruner := notification.NewPruner(outbox, cfg.OutboxRetention, logger)
	if err := pruner.Schedule(scheduler, cfg.OutboxPruneSchedule); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.Address())
		return srv.Listen()
	})
	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		<-scheduler.Stop().Done()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
