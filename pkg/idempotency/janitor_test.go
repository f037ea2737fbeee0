package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunJanitorRemovesExpiredMessages(t *testing.T) {
	repo := NewMemoryMessageRepository()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.MarkProcessed(ctx, &ProcessedMessage{
		ID: "m-1", MessageID: "evt-1", Topic: "procurement.purchases", ConsumerGroup: "stock-ledger",
		ProcessedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-24 * time.Hour),
	}))
	require.NoError(t, repo.MarkProcessed(ctx, &ProcessedMessage{
		ID: "m-2", MessageID: "evt-2", Topic: "procurement.purchases", ConsumerGroup: "stock-ledger",
		ProcessedAt: now, ExpiresAt: now.Add(24 * time.Hour),
	}))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunJanitor(runCtx, 5*time.Millisecond, nil, repo)
	}()

	assert.Eventually(t, func() bool {
		processed, err := repo.IsProcessed(ctx, "evt-1", "procurement.purchases", "stock-ledger")
		return err == nil && !processed
	}, time.Second, 5*time.Millisecond)

	processed, err := repo.IsProcessed(ctx, "evt-2", "procurement.purchases", "stock-ledger")
	require.NoError(t, err)
	assert.True(t, processed)

	cancel()
	<-done
}
