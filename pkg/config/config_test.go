package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load("stock-ledger")
	require.NoError(t, err)

	assert.Equal(t, ":8010", cfg.ServerAddr)
	assert.Equal(t, StorageMemory, cfg.StorageBackend)
	assert.Equal(t, GuardLocal, cfg.GuardBackend)
	assert.Equal(t, 5*time.Second, cfg.GuardLockTimeout)
	assert.True(t, cfg.RequireDistinctApprover)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
serverAddr: ":9000"
storageBackend: mongodb
guardLockTimeout: 2s
kafkaBrokers: ["kafka-1:9092"]
requireDistinctApprover: false
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SERVER_ADDR", ":9100")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")

	cfg, err := Load("stock-ledger")
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.ServerAddr)
	assert.Equal(t, StorageMongoDB, cfg.StorageBackend)
	assert.Equal(t, 2*time.Second, cfg.GuardLockTimeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.RequireDistinctApprover)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("GUARD_BACKEND", "zookeeper")

	_, err := Load("stock-ledger")
	assert.Error(t, err)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load("stock-ledger")
	assert.Error(t, err)
}

func TestLoad_ProcessToggles(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("OUTBOX_PUBLISHER_ENABLED", "false")
	t.Setenv("METRICS_ADDR", ":9191")
	t.Setenv("REPLENISHMENT_BATCHES_ENABLED", "true")

	cfg, err := Load("stock-ledger-worker")
	require.NoError(t, err)

	assert.False(t, cfg.OutboxPublisher)
	assert.Equal(t, ":9191", cfg.MetricsAddr)
	assert.True(t, cfg.ReplenishmentBatches)
	assert.Equal(t, "stock-ledger-worker", cfg.ServiceName)
}
