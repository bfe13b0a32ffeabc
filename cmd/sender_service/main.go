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

	"golang.org/x/sync/errgroup"

	queuePostgres "github.com/profiqo/golang_services/internal/dispatch_queue/postgres"
	"github.com/profiqo/golang_services/internal/platform/config"
	"github.com/profiqo/golang_services/internal/platform/database"
	"github.com/profiqo/golang_services/internal/platform/logger"
	"github.com/profiqo/golang_services/internal/platform/messagebroker"
	"github.com/profiqo/golang_services/internal/platform/server"
	schedulerPostgres "github.com/profiqo/golang_services/internal/scheduler_service/repository/postgres"
	"github.com/profiqo/golang_services/internal/sender_service/app"
	"github.com/profiqo/golang_services/internal/sender_service/provider"
	"github.com/profiqo/golang_services/internal/sender_service/repository/postgres"
	"github.com/profiqo/golang_services/internal/sender_service/secrets"
)

const serviceName = "sender-service"

func main() {
	mainCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)
	appLogger.Info("Sender service starting...",
		"workers", cfg.SenderWorkers,
		"poll_interval", cfg.SenderPollInterval(),
		"lock_ttl", cfg.LockTTL(),
		"max_attempts", cfg.MaxAttempts,
		"http_port", cfg.SenderHTTPPort,
		"grpc_port", cfg.SenderGRPCPort,
	)

	if err := run(mainCtx, cfg, appLogger); err != nil {
		appLogger.Error("Sender service stopped with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Sender service shutdown complete.")
}

func run(ctx context.Context, cfg *config.Config, appLogger *slog.Logger) error {
	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	defer dbPool.Close()
	appLogger.Info("Successfully connected to PostgreSQL")

	queue := queuePostgres.NewPgDispatchQueue(dbPool, appLogger)
	rules := schedulerPostgres.NewPgRuleRepository(dbPool, appLogger)
	connections := postgres.NewPgProviderConnectionRepository(dbPool, appLogger)
	templates := postgres.NewPgTemplateRepository(dbPool, appLogger)

	forceTestMode := cfg.ForceTestMode
	var credentials app.CredentialDecrypter
	if cfg.CryptoMasterKey == "" {
		appLogger.Warn("CRYPTO_MASTER_KEY not set; every send is simulated")
		forceTestMode = true
	} else {
		protector, err := secrets.NewAESGCMProtector(cfg.CryptoMasterKey)
		if err != nil {
			return fmt.Errorf("credential protector: %w", err)
		}
		credentials = protector
	}

	whatsapp := provider.NewWhatsappCloudProvider(
		appLogger,
		cfg.WhatsappGraphBaseURL,
		cfg.WhatsappGraphAPIVersion,
		&http.Client{Timeout: cfg.WhatsappHTTPTimeout()},
	)

	var publisher app.OutcomePublisher = app.NoopOutcomePublisher{}
	if cfg.NATSUrl != "" {
		natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, appLogger, serviceName)
		if err != nil {
			return err
		}
		defer natsClient.Close()
		publisher = app.NewNATSOutcomePublisher(natsClient, cfg.OutcomeSubjectPrefix, appLogger)
	}

	sender := app.NewSender(
		queue, rules, connections, templates, credentials, whatsapp, publisher,
		app.NewBackoff(time.Duration(cfg.BaseRetrySeconds)*time.Second, time.Duration(cfg.MaxRetrySeconds)*time.Second, cfg.MaxAttempts),
		appLogger,
		app.SenderConfig{
			Workers:           cfg.SenderWorkers,
			PollInterval:      cfg.SenderPollInterval(),
			ForceTestMode:     forceTestMode,
			TransitionTimeout: cfg.SenderTransitionTimeout(),
			RatePerSec:        cfg.ProviderRatePerSec,
		},
	)
	sweeper := app.NewStaleSweeper(queue, cfg.LockTTL(), cfg.StaleSweepInterval(), appLogger)

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sender.Run(groupCtx)
	})
	g.Go(func() error {
		return sweeper.Run(groupCtx)
	})

	opsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.SenderHTTPPort),
		Handler:           server.NewOpsRouter(serviceName),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		return server.ServeHTTP(groupCtx, opsServer, appLogger)
	})

	grpcServer, healthServer := server.NewHealthGRPCServer(serviceName)
	g.Go(func() error {
		return server.ServeGRPC(groupCtx, grpcServer, healthServer, cfg.SenderGRPCPort, appLogger)
	})

	appLogger.Info("Service components initialized and workers started. Service is ready.")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
