package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arcflow/budget-engine/internal/kv"
	"github.com/arcflow/budget-engine/internal/lock"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newCache(opts Options) (*SingleFlight, kv.Store) {
	store := kv.NewMemory()
	return New(store, lock.NewManager(store, 0), opts), store
}

func TestHitSkipsComputeAndLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, store := newCache(Options{})
	require.NoError(t, store.Set(ctx, "k", "cached", 0))

	v, err := c.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) (string, error) {
		t.Fatal("compute must not run on a hit")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", v)

	// No fill lock left behind.
	_, held, err := store.Get(ctx, "k:lock")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestHitMissObservers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var hits, misses atomic.Int64
	store := kv.NewMemory()
	c := New(store, lock.NewManager(store, 0), Options{
		OnHit:  func(ctx context.Context) { hits.Add(1) },
		OnMiss: func(ctx context.Context) { misses.Add(1) },
	})

	compute := func(ctx context.Context) (string, error) { return "v", nil }

	_, err := c.GetOrCompute(ctx, "k", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, int64(0), hits.Load())
	assert.Equal(t, int64(1), misses.Load())

	_, err = c.GetOrCompute(ctx, "k", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, int64(1), misses.Load())
}

func TestMissComputesAndStores(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, store := newCache(Options{})

	calls := 0
	v, err := c.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) (string, error) {
		calls++
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.Equal(t, 1, calls)

	stored, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "fresh", stored)

	// Lock released after fill.
	_, held, _ := store.Get(ctx, "k:lock")
	assert.False(t, held)
}

func TestSingleFlightUnderContention(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _ := newCache(Options{FillBackoff: 2 * time.Millisecond, MaxFillRetries: 200})

	var computes atomic.Int32
	compute := func(ctx context.Context) (string, error) {
		computes.Add(1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		return "value", nil
	}

	const n = 16
	results := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCompute(ctx, "hot", time.Minute, compute)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), computes.Load(), "compute must run exactly once")
	for _, v := range results {
		assert.Equal(t, "value", v)
	}
}

func TestComputeErrorReleasesLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, store := newCache(Options{})

	boom := eris.New("compute failed")
	_, err := c.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) (string, error) {
		return "", boom
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, boom))

	// Error is not cached and the lock is free for the next caller.
	_, ok, _ := store.Get(ctx, "k")
	assert.False(t, ok)

	v, err := c.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) (string, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
}

func TestWaiterFallsBackToDirectCompute(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kv.NewMemory()
	locks := lock.NewManager(store, 0)

	slept := 0
	c := New(store, locks, Options{
		FillBackoff:    time.Millisecond,
		MaxFillRetries: 3,
		Sleep:          func(ctx context.Context, d time.Duration) { slept++ },
	})

	// Simulate a crashed holder: lock taken, cache never filled.
	won, err := locks.TryAcquire(ctx, "k:lock", lock.NewToken())
	require.NoError(t, err)
	require.True(t, won)

	calls := 0
	v, err := c.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) (string, error) {
		calls++
		return "direct", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "direct", v)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 3, slept, "bounded retries before degraded compute")

	// Degraded result is not written back.
	_, ok, _ := store.Get(ctx, "k")
	assert.False(t, ok)
}

func TestWaiterPicksUpFilledValue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kv.NewMemory()
	locks := lock.NewManager(store, 0)

	filled := false
	c := New(store, locks, Options{
		FillBackoff:    time.Millisecond,
		MaxFillRetries: 10,
		Sleep: func(ctx context.Context, d time.Duration) {
			// The "holder" fills the cache during the first backoff.
			if !filled {
				filled = true
				_ = store.Set(ctx, "k", "from-holder", 0)
			}
		},
	})

	won, err := locks.TryAcquire(ctx, "k:lock", lock.NewToken())
	require.NoError(t, err)
	require.True(t, won)

	v, err := c.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) (string, error) {
		t.Fatal("waiter must reuse the holder's value")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "from-holder", v)
}

func TestInvalidate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, store := newCache(Options{})
	require.NoError(t, store.Set(ctx, "k", "v", 0))

	require.NoError(t, c.Invalidate(ctx, "k"))
	_, ok, _ := store.Get(ctx, "k")
	assert.False(t, ok)
}
