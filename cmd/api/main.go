package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	contracts "github.com/sitestock/stock-ledger/api"
	"github.com/sitestock/stock-ledger/internal/bootstrap"
	"github.com/sitestock/stock-ledger/pkg/config"
	"github.com/sitestock/stock-ledger/pkg/contracts/openapi"
	"github.com/sitestock/stock-ledger/pkg/idempotency"
	"github.com/sitestock/stock-ledger/pkg/logging"
	"github.com/sitestock/stock-ledger/pkg/metrics"
	"github.com/sitestock/stock-ledger/pkg/temporal"
)

const serviceName = "stock-ledger-api"

func main() {
	// Load configuration
	cfg, err := config.Load(serviceName)
	if err != nil {
		logging.New(logging.DefaultConfig(serviceName)).WithError(err).Error("Invalid configuration")
		os.Exit(1)
	}

	logConfig := logging.DefaultConfig(cfg.ServiceName)
	logConfig.Level = logging.ParseLevel(cfg.LogLevel)
	logConfig.Environment = cfg.Environment
	logger := logging.New(logConfig)
	logger.SetDefault()

	logger.Info("Starting stock ledger API",
		"storage", cfg.StorageBackend,
		"guard", cfg.GuardBackend,
	)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := bootstrap.InitTracing(ctx, cfg, logger)
	defer shutdownTracing()

	// Initialize Prometheus metrics
	m := metrics.New(metrics.DefaultConfig(cfg.ServiceName))

	ledger, err := bootstrap.Open(ctx, cfg, m, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to open stock ledger")
		os.Exit(1)
	}
	defer ledger.Close(context.Background())

	stopPublisher, err := bootstrap.StartOutboxPublisher(ctx, cfg, ledger.Outbox, m, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to start outbox publisher")
		os.Exit(1)
	}
	defer stopPublisher()

	// Idempotency-Key replay for mutating routes
	idempotencyConfig := idempotency.DefaultConfig(cfg.ServiceName, ledger.IdempotencyKeys)
	idempotencyConfig.Metrics = idempotency.NewMetrics(m.Registry())

	var contract *openapi.Validator
	if cfg.OpenAPIValidation {
		contract, err = openapi.NewValidatorFromBytes(contracts.OpenAPI)
		if err != nil {
			logger.WithError(err).Error("Failed to load OpenAPI contract")
			os.Exit(1)
		}
		logger.Info("OpenAPI request validation enabled")
	}

	var batches *temporal.Client
	if cfg.ReplenishmentBatches {
		batches, err = temporal.NewClient(ctx, &temporal.Config{
			HostPort:  cfg.TemporalHost,
			Namespace: cfg.TemporalNamespace,
			Identity:  cfg.ServiceName,
		}, logger.Logger)
		if err != nil {
			logger.WithError(err).Error("Failed to create Temporal client")
			os.Exit(1)
		}
		defer batches.Close()
		logger.Info("Batch replenishment intake enabled", "hostPort", cfg.TemporalHost, "namespace", cfg.TemporalNamespace)
	}

	routes := routerConfig{
		ServiceName: cfg.ServiceName,
		Logger:      logger,
		Metrics:     m,
		RateLimit:   cfg.RateLimit,
		CORSOrigins: cfg.CORSOrigins,
		Contract:    contract,
		Idempotency: idempotencyConfig,
		Ready:       ledger.Ready,
	}
	if batches != nil {
		routes.Batches = batches
	}

	router, err := newRouter(ledger.Service, routes)
	if err != nil {
		logger.WithError(err).Error("Failed to build router")
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			stop()
		}
	}()
	logger.Info("Server started", "addr", cfg.ServerAddr)

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server stopped")
}
