package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitestock/stock-ledger/internal/application"
	"github.com/sitestock/stock-ledger/pkg/config"
	"github.com/sitestock/stock-ledger/pkg/logging"
)

func TestOpenMemoryLedger(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default("stock-ledger-test")

	ledger, err := Open(ctx, cfg, nil, logging.Nop())
	require.NoError(t, err)
	defer ledger.Close(ctx)

	require.NoError(t, ledger.Ready(ctx))
	require.NotNil(t, ledger.IdempotencyKeys)
	require.NotNil(t, ledger.ProcessedMessages)

	_, err = ledger.Service.AddStock(ctx, application.AddStockCommand{
		Name:     "Cement",
		Location: "company",
		Quantity: 5,
		Unit:     "bag",
		ActorID:  "storekeeper",
	})
	require.NoError(t, err)

	// the credit's event lands in the outbox of the same backend
	pending, err := ledger.Outbox.FindUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "stockledger.stock.credited", pending[0].EventType)
}

func TestOpenRedisGuardFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := config.Default("stock-ledger-test")
	cfg.GuardBackend = config.GuardRedis
	cfg.RedisAddr = "127.0.0.1:1"

	_, err := Open(ctx, cfg, nil, logging.Nop())
	assert.Error(t, err)
}

func TestOutboxPublisherDisabled(t *testing.T) {
	cfg := config.Default("stock-ledger-test")
	cfg.OutboxPublisher = false

	stop, err := StartOutboxPublisher(context.Background(), cfg, nil, nil, logging.Nop())
	require.NoError(t, err)
	stop()
}
