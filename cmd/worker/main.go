package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	contracts "github.com/sitestock/stock-ledger/api"
	"github.com/sitestock/stock-ledger/internal/activities"
	"github.com/sitestock/stock-ledger/internal/bootstrap"
	"github.com/sitestock/stock-ledger/internal/consumers"
	"github.com/sitestock/stock-ledger/pkg/config"
	"github.com/sitestock/stock-ledger/pkg/contracts/asyncapi"
	"github.com/sitestock/stock-ledger/pkg/idempotency"
	"github.com/sitestock/stock-ledger/pkg/kafka"
	"github.com/sitestock/stock-ledger/pkg/logging"
	"github.com/sitestock/stock-ledger/pkg/metrics"
	"github.com/sitestock/stock-ledger/pkg/middleware"
	"github.com/sitestock/stock-ledger/pkg/temporal"
)

const serviceName = "stock-ledger-worker"

func main() {
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

	logger.Info("Starting stock ledger worker",
		"storage", cfg.StorageBackend,
		"guard", cfg.GuardBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := bootstrap.InitTracing(ctx, cfg, logger)
	defer shutdownTracing()

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

	// Initialize Temporal client
	temporalClient, err := temporal.NewClient(ctx, &temporal.Config{
		HostPort:  cfg.TemporalHost,
		Namespace: cfg.TemporalNamespace,
		Identity:  cfg.ServiceName,
	}, logger.Logger)
	if err != nil {
		logger.WithError(err).Error("Failed to create Temporal client")
		os.Exit(1)
	}
	defer temporalClient.Close()
	logger.Info("Connected to Temporal", "hostPort", cfg.TemporalHost, "namespace", cfg.TemporalNamespace)

	w := temporalClient.NewWorker(temporal.TaskQueues.StockLedger)
	w.RegisterWorkflow(activities.ReplenishmentWorkflow)
	w.RegisterActivity(activities.NewLedgerActivities(ledger.Service, m))
	logger.Info("Registered workflows and activities",
		"workflows", []string{temporal.WorkflowNames.Replenishment},
		"activities", []string{
			activities.CreditFromPurchaseActivity,
			activities.CreditFromRentalActivity,
			activities.LogUsageActivity,
			activities.ApproveTransferActivity,
		},
	)

	if err := w.Start(); err != nil {
		logger.WithError(err).Error("Failed to start worker")
		os.Exit(1)
	}
	defer w.Stop()
	logger.Info("Worker started", "taskQueue", temporal.TaskQueues.StockLedger)

	// Verification intake from procurement
	eventContract, err := asyncapi.NewEventValidatorFromBytes(contracts.AsyncAPI)
	if err != nil {
		logger.WithError(err).Error("Failed to load AsyncAPI contract")
		os.Exit(1)
	}

	kafkaConfig := kafka.DefaultConfig()
	kafkaConfig.Brokers = cfg.KafkaBrokers
	kafkaConfig.ConsumerGroup = cfg.KafkaConsumerGroup
	kafkaConfig.ClientID = cfg.ServiceName

	kafkaConsumer := kafka.NewConsumer(kafkaConfig, logger)
	instrumentedConsumer := kafka.NewInstrumentedConsumer(kafkaConsumer, m)
	defer instrumentedConsumer.Close()

	consumers.NewVerificationConsumer(ledger.Service, logger).WithContract(eventContract).Register(
		instrumentedConsumer,
		cfg.ServiceName,
		cfg.KafkaConsumerGroup,
		ledger.ProcessedMessages,
		idempotency.NewMetrics(m.Registry()),
	)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := instrumentedConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Kafka consumer stopped")
		}
	}()
	logger.Info("Kafka consumer started", "brokers", cfg.KafkaBrokers, "group", cfg.KafkaConsumerGroup)

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           opsRouter(cfg.ServiceName, m, ledger.Ready),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server forced to shutdown", "error", err)
	}
	<-consumerDone

	logger.Info("Worker stopped")
}

// opsRouter serves health, readiness and metrics
func opsRouter(name string, m *metrics.Metrics, ready func(ctx context.Context) error) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", middleware.HealthCheck(name))
	router.GET("/ready", middleware.ReadinessCheck(name, ready))
	router.GET("/metrics", middleware.MetricsEndpoint(m))
	return router
}
