// Package bootstrap assembles the stock ledger from configuration. cmd/api and
// cmd/worker share it so both processes run the same stores, guard and service.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/sitestock/stock-ledger/internal/application"
	"github.com/sitestock/stock-ledger/internal/guard"
	"github.com/sitestock/stock-ledger/internal/infrastructure/events"
	"github.com/sitestock/stock-ledger/internal/infrastructure/memory"
	mongostore "github.com/sitestock/stock-ledger/internal/infrastructure/mongodb"
	"github.com/sitestock/stock-ledger/internal/infrastructure/projections"
	redisguard "github.com/sitestock/stock-ledger/internal/infrastructure/redis"
	"github.com/sitestock/stock-ledger/pkg/config"
	"github.com/sitestock/stock-ledger/pkg/idempotency"
	"github.com/sitestock/stock-ledger/pkg/kafka"
	"github.com/sitestock/stock-ledger/pkg/logging"
	"github.com/sitestock/stock-ledger/pkg/metrics"
	sharedmongo "github.com/sitestock/stock-ledger/pkg/mongodb"
	"github.com/sitestock/stock-ledger/pkg/outbox"
	outboxmongo "github.com/sitestock/stock-ledger/pkg/outbox/mongodb"
	"github.com/sitestock/stock-ledger/pkg/tracing"
)

const idempotencyJanitorInterval = 10 * time.Minute

// Ledger is a fully wired stock ledger
type Ledger struct {
	Service           *application.StockService
	Outbox            outbox.Repository
	IdempotencyKeys   idempotency.KeyRepository
	ProcessedMessages idempotency.MessageRepository

	checks  []func(ctx context.Context) error
	closers []func(ctx context.Context) error
}

// Ready checks every backing server
func (l *Ledger) Ready(ctx context.Context) error {
	for _, check := range l.checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases connections in reverse order of opening
func (l *Ledger) Close(ctx context.Context) {
	for i := len(l.closers) - 1; i >= 0; i-- {
		_ = l.closers[i](ctx)
	}
}

// Open builds the stores, the guard and the service selected by cfg
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *logging.Logger) (*Ledger, error) {
	ledger := &Ledger{}

	var stores application.Stores
	switch cfg.StorageBackend {
	case config.StorageMongoDB:
		mongoConfig := sharedmongo.DefaultConfig()
		mongoConfig.URI = cfg.MongoDBURI
		mongoConfig.Database = cfg.MongoDBDatabase

		mongoClient, err := sharedmongo.NewClient(ctx, mongoConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		client := sharedmongo.NewInstrumentedClient(mongoClient, m, logger)
		ledger.closers = append(ledger.closers, client.Close)
		ledger.checks = append(ledger.checks, client.HealthCheck)
		logger.Info("Connected to MongoDB", "database", cfg.MongoDBDatabase)

		stockView := projections.NewMongoLocationStockRepository(client)
		outboxRepo := outboxmongo.NewOutboxRepository(client)
		keyRepo := idempotency.NewMongoKeyRepository(client)
		messageRepo := idempotency.NewMongoMessageRepository(client)

		if err := ensureIndexes(ctx, client, stockView, outboxRepo, keyRepo, messageRepo); err != nil {
			ledger.Close(ctx)
			return nil, err
		}
		logger.Info("MongoDB indexes ensured")

		stores = application.Stores{
			Transactor: mongostore.NewTransactor(client),
			Ledger:     mongostore.NewLedgerStore(client),
			Items:      mongostore.NewStockItemRepository(client),
			Transfers:  mongostore.NewTransferRepository(client),
			Usage:      mongostore.NewUsageRepository(client),
			StockView:  stockView,
		}
		ledger.Outbox = outboxRepo
		ledger.IdempotencyKeys = keyRepo
		ledger.ProcessedMessages = messageRepo

	default:
		db := memory.NewDB()
		stores = application.Stores{
			Transactor: memory.NewTransactor(db),
			Ledger:     memory.NewLedgerStore(db),
			Items:      memory.NewStockItemRepository(db),
			Transfers:  memory.NewTransferRepository(db),
			Usage:      memory.NewUsageRepository(db),
			StockView:  projections.NewMemoryLocationStockRepository(),
		}
		ledger.Outbox = memory.NewOutboxRepository(db)
		keys := idempotency.NewMemoryKeyRepository()
		messages := idempotency.NewMemoryMessageRepository()
		ledger.IdempotencyKeys = keys
		ledger.ProcessedMessages = messages
		go idempotency.RunJanitor(ctx, idempotencyJanitorInterval, logger.Logger, keys, messages)
		logger.Warn("Using in-memory storage; state is lost on restart")
	}

	g, err := openGuard(ctx, cfg, m, logger, ledger)
	if err != nil {
		ledger.Close(ctx)
		return nil, err
	}

	ledger.Service = application.NewStockService(
		stores,
		g,
		events.NewOutboxRecorder(ledger.Outbox),
		m,
		logger,
		application.Options{RequireDistinctApprover: cfg.RequireDistinctApprover},
	)
	return ledger, nil
}

type indexer interface {
	EnsureIndexes(ctx context.Context) error
}

func ensureIndexes(ctx context.Context, client *sharedmongo.InstrumentedClient, extra ...indexer) error {
	if err := mongostore.EnsureIndexes(ctx, client); err != nil {
		return err
	}
	for _, ix := range extra {
		if err := ix.EnsureIndexes(ctx); err != nil {
			return err
		}
	}
	return nil
}

func openGuard(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *logging.Logger, ledger *Ledger) (guard.Guard, error) {
	if cfg.GuardBackend != config.GuardRedis {
		logger.Info("Using in-process consistency guard", "timeout", cfg.GuardLockTimeout)
		return guard.NewLocal(cfg.GuardLockTimeout, m), nil
	}

	client, err := redisguard.NewClient(ctx, cfg.RedisAddr, "", 0)
	if err != nil {
		return nil, err
	}
	ledger.closers = append(ledger.closers, func(context.Context) error { return client.Close() })
	ledger.checks = append(ledger.checks, func(ctx context.Context) error { return client.Ping(ctx).Err() })

	guardConfig := redisguard.DefaultConfig()
	guardConfig.Timeout = cfg.GuardLockTimeout
	logger.Info("Using Redis consistency guard", "addr", cfg.RedisAddr, "timeout", cfg.GuardLockTimeout)
	return redisguard.NewGuard(client, guardConfig, m, logger), nil
}

// StartOutboxPublisher relays outbox events to Kafka. It returns a stop function
// that is a no-op when the publisher is disabled.
func StartOutboxPublisher(ctx context.Context, cfg *config.Config, repo outbox.Repository, m *metrics.Metrics, logger *logging.Logger) (func(), error) {
	if !cfg.OutboxPublisher {
		logger.Info("Outbox publisher disabled in this process")
		return func() {}, nil
	}

	kafkaConfig := kafka.DefaultConfig()
	kafkaConfig.Brokers = cfg.KafkaBrokers
	kafkaConfig.ClientID = cfg.ServiceName
	producer := kafka.NewProductionProducer(kafkaConfig, m, logger)

	publisher := outbox.NewPublisher(repo, producer, logger, m, outbox.DefaultPublisherConfig())
	if err := publisher.Start(ctx); err != nil {
		_ = producer.Close()
		return nil, fmt.Errorf("failed to start outbox publisher: %w", err)
	}
	logger.Info("Outbox publisher started", "brokers", cfg.KafkaBrokers)

	return func() {
		_ = publisher.Stop()
		_ = producer.Close()
	}, nil
}

// InitTracing starts the OTLP exporter. Failure is logged and tracing stays off.
func InitTracing(ctx context.Context, cfg *config.Config, logger *logging.Logger) func() {
	tracingConfig := tracing.DefaultConfig(cfg.ServiceName)
	tracingConfig.OTLPEndpoint = cfg.OTLPEndpoint
	tracingConfig.Environment = cfg.Environment
	tracingConfig.Enabled = cfg.TracingEnabled

	tracerProvider, err := tracing.Initialize(ctx, tracingConfig)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
		return func() {}
	}
	if tracerProvider == nil {
		return func() {}
	}
	logger.Info("Tracing initialized", "endpoint", tracingConfig.OTLPEndpoint)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to shutdown tracer")
		}
	}
}
