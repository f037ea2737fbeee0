package idempotency

import (
	"context"
	"log/slog"
	"time"
)

// RunJanitor removes expired keys and processed messages every interval until
// ctx is done. MongoDB repositories expire rows through a TTL index and do not
// need it; the memory repositories do.
func RunJanitor(ctx context.Context, interval time.Duration, logger *slog.Logger, cleaners ...Cleaner) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sweep(ctx, now, logger, cleaners)
		}
	}
}

func sweep(ctx context.Context, now time.Time, logger *slog.Logger, cleaners []Cleaner) {
	var removed int64
	for _, c := range cleaners {
		n, err := c.Clean(ctx, now)
		if err != nil {
			logger.Warn("Idempotency cleanup failed", "error", err)
			continue
		}
		removed += n
	}
	if removed > 0 {
		logger.Debug("Expired idempotency records removed", "count", removed)
	}
}
