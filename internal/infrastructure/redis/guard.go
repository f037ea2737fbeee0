// Package redis provides a Consistency Guard shared by every replica of the service.
package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sitestock/stock-ledger/internal/guard"
	"github.com/sitestock/stock-ledger/pkg/logging"
)

const (
	// DefaultKeyPrefix namespaces lock keys
	DefaultKeyPrefix = "stockledger:lock:"
	// DefaultLease bounds how long a crashed holder can block a key
	DefaultLease = 30 * time.Second
	// DefaultRetryInterval is the pause between SET NX attempts
	DefaultRetryInterval = 25 * time.Millisecond
)

// releaseScript deletes the key only while it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config holds Redis guard settings
type Config struct {
	KeyPrefix     string
	Timeout       time.Duration
	Lease         time.Duration
	RetryInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		KeyPrefix:     DefaultKeyPrefix,
		Timeout:       guard.DefaultTimeout,
		Lease:         DefaultLease,
		RetryInterval: DefaultRetryInterval,
	}
}

// Guard implements guard.Guard with SET NX PX token locks
type Guard struct {
	client   redis.UniversalClient
	config   *Config
	observer guard.Observer
	logger   *logging.Logger
}

// NewGuard creates a Redis-backed guard. observer and logger may be nil.
func NewGuard(client redis.UniversalClient, config *Config, observer guard.Observer, logger *logging.Logger) *Guard {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = guard.DefaultTimeout
	}
	if config.Lease <= 0 {
		config.Lease = DefaultLease
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Guard{
		client:   client,
		config:   config,
		observer: observer,
		logger:   logger.WithComponent("redis-guard"),
	}
}

// NewClient creates a go-redis client and verifies the connection
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return client, nil
}

// Acquire implements guard.Guard
func (g *Guard) Acquire(ctx context.Context, keys ...string) (guard.ReleaseFunc, error) {
	ordered := guard.OrderKeys(keys)
	start := time.Now()

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	held := make([]string, 0, len(ordered))
	for _, key := range ordered {
		if err := g.lock(waitCtx, g.config.KeyPrefix+key, token); err != nil {
			g.unlock(held, token)

			if ctx.Err() != nil {
				g.observe(guard.OutcomeCanceled, start)
				return nil, ctx.Err()
			}
			if waitCtx.Err() != nil {
				g.observe(guard.OutcomeTimeout, start)
				return nil, guard.ErrLockTimeout
			}
			return nil, err
		}
		held = append(held, g.config.KeyPrefix+key)
	}

	g.observe(guard.OutcomeAcquired, start)

	var once sync.Once
	return func() {
		once.Do(func() { g.unlock(held, token) })
	}, nil
}

// lock retries SET NX until it succeeds or ctx is done
func (g *Guard) lock(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(g.config.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := g.client.SetNX(ctx, key, token, g.config.Lease).Result()
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("failed to lock %s: %w", key, err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// unlock releases keys in reverse order. It uses a fresh context so that
// a cancelled caller still frees what it took.
func (g *Guard) unlock(keys []string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for i := len(keys) - 1; i >= 0; i-- {
		released, err := releaseScript.Run(ctx, g.client, []string{keys[i]}, token).Int()
		if err != nil {
			g.logger.WithError(err).Error("Failed to release stock lock", "key", keys[i])
			continue
		}
		if released == 0 {
			g.logger.Warn("Stock lock expired before release", "key", keys[i])
		}
	}
}

func (g *Guard) observe(outcome string, start time.Time) {
	if g.observer != nil {
		g.observer.ObserveLockWait(outcome, time.Since(start))
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
