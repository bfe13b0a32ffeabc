package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	queuePostgres "github.com/profiqo/golang_services/internal/dispatch_queue/postgres"
	"github.com/profiqo/golang_services/internal/platform/config"
	"github.com/profiqo/golang_services/internal/platform/database"
	"github.com/profiqo/golang_services/internal/platform/logger"
	"github.com/profiqo/golang_services/internal/platform/messagebroker"
	"github.com/profiqo/golang_services/internal/platform/server"
	"github.com/profiqo/golang_services/internal/scheduler_service/app"
	"github.com/profiqo/golang_services/internal/scheduler_service/repository/postgres"
)

const serviceName = "scheduler-service"

func main() {
	mainCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)
	appLogger.Info("Scheduler service starting...",
		"interval", cfg.SchedulerInterval(),
		"default_timezone", cfg.DefaultTimezone,
		"http_port", cfg.SchedulerHTTPPort,
		"grpc_port", cfg.SchedulerGRPCPort,
	)

	if err := run(mainCtx, cfg, appLogger); err != nil {
		appLogger.Error("Scheduler service stopped with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Scheduler service shutdown complete.")
}

func run(ctx context.Context, cfg *config.Config, appLogger *slog.Logger) error {
	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	defer dbPool.Close()
	appLogger.Info("Successfully connected to PostgreSQL")

	rules := postgres.NewPgRuleRepository(dbPool, appLogger)
	jobs := postgres.NewPgJobRepository(dbPool, appLogger)
	events := postgres.NewPgOrderEventRepository(dbPool, appLogger)
	queue := queuePostgres.NewPgDispatchQueue(dbPool, appLogger)

	scheduler, err := app.NewScheduler(rules, jobs, events, queue, appLogger, app.SchedulerConfig{
		Interval:            cfg.SchedulerInterval(),
		OrderEventBatchSize: cfg.OrderEventBatchSize,
		DailyLateTolerance:  cfg.DailyLateTolerance(),
		DefaultTimezone:     cfg.DefaultTimezone,
	})
	if err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)

	if cfg.NATSUrl != "" {
		natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, appLogger, serviceName)
		if err != nil {
			return err
		}
		defer natsClient.Close()

		ingestor := app.NewOrderEventIngestor(events, validator.New(), appLogger)
		consumer := app.NewOrderEventConsumer(natsClient, ingestor, appLogger)
		if err := consumer.StartConsuming(groupCtx, cfg.OrderEventsSubject, cfg.OrderEventsQueueGroup); err != nil {
			return err
		}
	} else {
		appLogger.Warn("NATS_URL not set; order events are accepted over HTTP only")
	}

	g.Go(func() error {
		return scheduler.Run(groupCtx)
	})

	opsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.SchedulerHTTPPort),
		Handler:           server.NewOpsRouter(serviceName),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		return server.ServeHTTP(groupCtx, opsServer, appLogger)
	})

	grpcServer, healthServer := server.NewHealthGRPCServer(serviceName)
	g.Go(func() error {
		return server.ServeGRPC(groupCtx, grpcServer, healthServer, cfg.SchedulerGRPCPort, appLogger)
	})

	appLogger.Info("Service components initialized and workers started. Service is ready.")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
