// Package cache provides a stampede-safe read-through cache over the kv
// substrate.
package cache

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/arcflow/budget-engine/internal/kv"
	"github.com/arcflow/budget-engine/internal/lock"
	"github.com/arcflow/budget-engine/internal/resilience"
)

// Options tune the miss path. Zero values take the defaults.
type Options struct {
	// FillBackoff is the fixed delay between cache re-reads while another
	// caller holds the fill lock. Default: 100ms.
	FillBackoff time.Duration

	// MaxFillRetries bounds the re-reads before a waiting caller gives up
	// on the lock holder and computes directly. Default: 20.
	MaxFillRetries int

	// Sleep overrides the backoff sleep for tests.
	Sleep resilience.Sleep

	// OnHit and OnMiss, when set, observe fast-path hits and misses.
	// A miss is counted once per GetOrCompute call, whichever fill path
	// serves it.
	OnHit  func(ctx context.Context)
	OnMiss func(ctx context.Context)
}

// SingleFlight is a read-through cache that guarantees a missing key is
// computed by at most one concurrent caller. The fill path walks an
// explicit state machine: MISS -> LOCKING -> FILLING -> FILLED. Callers
// that cannot take the fill lock poll the cache with a fixed backoff and,
// as a liveness escape, fall back to computing directly.
type SingleFlight struct {
	store      kv.Store
	locks      *lock.Manager
	backoff    time.Duration
	maxRetries int
	sleep      resilience.Sleep
	onHit      func(ctx context.Context)
	onMiss     func(ctx context.Context)
}

// New creates a SingleFlight cache.
func New(store kv.Store, locks *lock.Manager, opts Options) *SingleFlight {
	if opts.FillBackoff <= 0 {
		opts.FillBackoff = 100 * time.Millisecond
	}
	if opts.MaxFillRetries <= 0 {
		opts.MaxFillRetries = 20
	}
	if opts.Sleep == nil {
		opts.Sleep = resilience.RealSleep
	}
	return &SingleFlight{
		store:      store,
		locks:      locks,
		backoff:    opts.FillBackoff,
		maxRetries: opts.MaxFillRetries,
		sleep:      opts.Sleep,
		onHit:      opts.OnHit,
		onMiss:     opts.OnMiss,
	}
}

// GetOrCompute returns the cached value for key, computing and storing it
// with ttl on a miss. Under N concurrent callers racing on the same missing
// key, compute runs exactly once and every caller observes the same value.
// If compute fails, the error is propagated to the lock holder only; the
// lock is always released.
func (c *SingleFlight) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (string, error)) (string, error) {
	// Fast path: hit, no lock taken.
	if v, ok, err := c.store.Get(ctx, key); err != nil {
		return "", eris.Wrapf(err, "cache: get %s", key)
	} else if ok {
		if c.onHit != nil {
			c.onHit(ctx)
		}
		return v, nil
	}
	if c.onMiss != nil {
		c.onMiss(ctx)
	}

	token := lock.NewToken()
	lockName := key + ":lock"

	won, err := c.locks.TryAcquire(ctx, lockName, token)
	if err != nil {
		return "", eris.Wrapf(err, "cache: acquire fill lock %s", lockName)
	}

	if won {
		defer func() {
			if relErr := c.locks.Release(ctx, lockName, token); relErr != nil {
				zap.L().Warn("cache: release fill lock failed",
					zap.String("lock", lockName), zap.Error(relErr))
			}
		}()
		return c.fill(ctx, key, ttl, compute)
	}

	return c.awaitFill(ctx, key, ttl, compute)
}

// fill runs on the lock holder: double-check the cache (another holder may
// have just released), then compute and store.
func (c *SingleFlight) fill(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (string, error)) (string, error) {
	if v, ok, err := c.store.Get(ctx, key); err != nil {
		return "", eris.Wrapf(err, "cache: recheck %s", key)
	} else if ok {
		return v, nil
	}

	v, err := compute(ctx)
	if err != nil {
		return "", eris.Wrapf(err, "cache: compute %s", key)
	}
	if err := c.store.Set(ctx, key, v, ttl); err != nil {
		return "", eris.Wrapf(err, "cache: store %s", key)
	}
	return v, nil
}

// awaitFill polls the cache while another caller fills it. After the retry
// budget is spent (lock holder crashed or is slow) it computes directly so
// the caller never blocks forever. The direct result is not written back;
// the holder's value stays authoritative.
func (c *SingleFlight) awaitFill(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (string, error)) (string, error) {
	for i := 0; i < c.maxRetries; i++ {
		c.sleep(ctx, c.backoff)
		if err := ctx.Err(); err != nil {
			return "", eris.Wrapf(err, "cache: await fill %s", key)
		}
		if v, ok, err := c.store.Get(ctx, key); err != nil {
			return "", eris.Wrapf(err, "cache: await fill %s", key)
		} else if ok {
			return v, nil
		}
	}

	zap.L().Warn("cache: fill wait exhausted, computing directly", zap.String("key", key))
	v, err := compute(ctx)
	if err != nil {
		return "", eris.Wrapf(err, "cache: degraded compute %s", key)
	}
	return v, nil
}

// Invalidate drops the cached value for key.
func (c *SingleFlight) Invalidate(ctx context.Context, key string) error {
	return eris.Wrapf(c.store.Delete(ctx, key), "cache: invalidate %s", key)
}
