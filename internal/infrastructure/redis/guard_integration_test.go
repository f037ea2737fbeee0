//go:build integration

package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/suite"

	"github.com/sitestock/stock-ledger/internal/guard"
	sharedtesting "github.com/sitestock/stock-ledger/pkg/testing"
)

type GuardIntegrationTestSuite struct {
	suite.Suite
	container *sharedtesting.RedisContainer
	client    *redis.Client
	ctx       context.Context
}

func (s *GuardIntegrationTestSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := sharedtesting.NewRedisContainer(s.ctx)
	s.Require().NoError(err)
	s.container = container

	client, err := NewClient(s.ctx, container.Addr, "", 0)
	s.Require().NoError(err)
	s.client = client
}

func (s *GuardIntegrationTestSuite) TearDownTest() {
	s.Require().NoError(s.client.FlushAll(s.ctx).Err())
}

func (s *GuardIntegrationTestSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.container != nil {
		s.Require().NoError(s.container.Close(s.ctx))
	}
}

func TestGuardIntegrationTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	suite.Run(t, new(GuardIntegrationTestSuite))
}

func (s *GuardIntegrationTestSuite) newGuard(timeout time.Duration) *Guard {
	cfg := DefaultConfig()
	cfg.Timeout = timeout
	cfg.RetryInterval = 5 * time.Millisecond
	return NewGuard(s.client, cfg, nil, nil)
}

func (s *GuardIntegrationTestSuite) TestSerializesSameKeyAcrossGuards() {
	// two guards stand in for two replicas
	replicas := []*Guard{s.newGuard(5 * time.Second), s.newGuard(5 * time.Second)}

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(g *Guard) {
			defer wg.Done()
			release, err := g.Acquire(s.ctx, "cement@site:S1")
			if !s.NoError(err) {
				return
			}
			defer release()

			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}(replicas[i%2])
	}
	wg.Wait()

	s.Equal(int32(1), maxInside)
}

func (s *GuardIntegrationTestSuite) TestTimeoutReleasesPartialKeys() {
	g := s.newGuard(100 * time.Millisecond)

	release, err := g.Acquire(s.ctx, "b")
	s.Require().NoError(err)

	_, err = g.Acquire(s.ctx, "a", "b")
	s.ErrorIs(err, guard.ErrLockTimeout)

	// "a" was taken first and must have been given back
	exists, err := s.client.Exists(s.ctx, DefaultKeyPrefix+"a").Result()
	s.Require().NoError(err)
	s.Zero(exists)

	release()
	release()

	again, err := g.Acquire(s.ctx, "a", "b")
	s.Require().NoError(err)
	again()
}

func (s *GuardIntegrationTestSuite) TestReleaseKeepsForeignToken() {
	g := s.newGuard(time.Second)

	release, err := g.Acquire(s.ctx, "k")
	s.Require().NoError(err)

	// simulate lease expiry and takeover by another holder
	s.Require().NoError(s.client.Set(s.ctx, DefaultKeyPrefix+"k", "other", time.Minute).Err())
	release()

	value, err := s.client.Get(s.ctx, DefaultKeyPrefix+"k").Result()
	s.Require().NoError(err)
	s.Equal("other", value)
}

func (s *GuardIntegrationTestSuite) TestCancelledContext() {
	g := s.newGuard(time.Second)
	release, err := g.Acquire(s.ctx, "k")
	s.Require().NoError(err)
	defer release()

	ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx, "k")
	s.ErrorIs(err, context.DeadlineExceeded)
}
