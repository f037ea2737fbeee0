package guard

import (
	"context"
	"sync"
	"time"
)

type keyLock struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process Guard backed by one single-slot semaphore per key.
// Entries are reference counted and removed once nobody holds or waits on them.
type Local struct {
	mu       sync.Mutex
	locks    map[string]*keyLock
	timeout  time.Duration
	observer Observer
}

// NewLocal creates a Local guard. A non-positive timeout uses DefaultTimeout.
func NewLocal(timeout time.Duration, observer Observer) *Local {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Local{
		locks:    make(map[string]*keyLock),
		timeout:  timeout,
		observer: observer,
	}
}

// Acquire implements Guard
func (g *Local) Acquire(ctx context.Context, keys ...string) (ReleaseFunc, error) {
	ordered := OrderKeys(keys)
	start := time.Now()

	waitCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	held := make([]*keyLock, 0, len(ordered))
	heldKeys := make([]string, 0, len(ordered))

	for _, key := range ordered {
		lock := g.ref(key)
		select {
		case lock.sem <- struct{}{}:
			held = append(held, lock)
			heldKeys = append(heldKeys, key)
		case <-waitCtx.Done():
			g.unref(key)
			g.release(heldKeys, held)

			if ctx.Err() != nil {
				g.observe(OutcomeCanceled, start)
				return nil, ctx.Err()
			}
			g.observe(OutcomeTimeout, start)
			return nil, ErrLockTimeout
		}
	}

	g.observe(OutcomeAcquired, start)

	var once sync.Once
	return func() {
		once.Do(func() { g.release(heldKeys, held) })
	}, nil
}

// Held reports how many keys currently have holders or waiters
func (g *Local) Held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}

func (g *Local) ref(key string) *keyLock {
	g.mu.Lock()
	defer g.mu.Unlock()

	lock, ok := g.locks[key]
	if !ok {
		lock = &keyLock{sem: make(chan struct{}, 1)}
		g.locks[key] = lock
	}
	lock.refs++
	return lock
}

func (g *Local) unref(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	lock, ok := g.locks[key]
	if !ok {
		return
	}
	lock.refs--
	if lock.refs == 0 {
		delete(g.locks, key)
	}
}

// release frees keys in reverse acquisition order
func (g *Local) release(keys []string, locks []*keyLock) {
	for i := len(locks) - 1; i >= 0; i-- {
		<-locks[i].sem
		g.unref(keys[i])
	}
}

func (g *Local) observe(outcome string, start time.Time) {
	if g.observer != nil {
		g.observer.ObserveLockWait(outcome, time.Since(start))
	}
}
