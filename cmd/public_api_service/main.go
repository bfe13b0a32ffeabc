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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/profiqo/golang_services/internal/core_domain"
	queuePostgres "github.com/profiqo/golang_services/internal/dispatch_queue/postgres"
	"github.com/profiqo/golang_services/internal/platform/config"
	"github.com/profiqo/golang_services/internal/platform/database"
	"github.com/profiqo/golang_services/internal/platform/logger"
	"github.com/profiqo/golang_services/internal/platform/server"
	httptransport "github.com/profiqo/golang_services/internal/public_api_service/transport/http"
	schedulerApp "github.com/profiqo/golang_services/internal/scheduler_service/app"
	schedulerPostgres "github.com/profiqo/golang_services/internal/scheduler_service/repository/postgres"
)

const serviceName = "public-api-service"

func main() {
	mainCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)
	appLogger.Info("Public API service starting...", "port", cfg.PublicAPIServicePort)

	if err := run(mainCtx, cfg, appLogger); err != nil {
		appLogger.Error("Public API service stopped with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Public API service shutdown complete.")
}

func run(ctx context.Context, cfg *config.Config, appLogger *slog.Logger) error {
	location, err := core_domain.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		return fmt.Errorf("default timezone %q: %w", cfg.DefaultTimezone, err)
	}

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	defer dbPool.Close()
	appLogger.Info("Public API service connected to PostgreSQL database")

	queue := queuePostgres.NewPgDispatchQueue(dbPool, appLogger)
	rules := schedulerPostgres.NewPgRuleRepository(dbPool, appLogger)
	jobs := schedulerPostgres.NewPgJobRepository(dbPool, appLogger)
	events := schedulerPostgres.NewPgOrderEventRepository(dbPool, appLogger)

	validate := validator.New()
	runNow, err := schedulerApp.NewRunNowService(rules, jobs, queue, cfg.DefaultTimezone, appLogger)
	if err != nil {
		return err
	}
	ingestor := schedulerApp.NewOrderEventIngestor(events, validate, appLogger)
	dispatchHandler := httptransport.NewDispatchHandler(queue, runNow, ingestor, location, appLogger, validate)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(server.HTTPLogger(appLogger))
	r.Use(httptransport.PrometheusMetricsMiddleware)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	server.MountOps(r, serviceName)
	dispatchHandler.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.PublicAPIServicePort),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      65 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := server.ServeHTTP(ctx, httpServer, appLogger); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
