package configstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arcflow/budget-engine/internal/cache"
	"github.com/arcflow/budget-engine/internal/kv"
	"github.com/arcflow/budget-engine/internal/lock"
	"github.com/arcflow/budget-engine/internal/model"
	"github.com/arcflow/budget-engine/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestStore(t *testing.T, substrate kv.Store) *Store {
	t.Helper()
	locks := lock.NewManager(substrate, time.Minute)
	c := cache.New(substrate, locks, cache.Options{
		FillBackoff:    time.Millisecond,
		MaxFillRetries: 5,
	})
	retry := resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		Sleep:          func(ctx context.Context, d time.Duration) {},
	}
	return New(substrate, locks, c, retry, time.Minute)
}

func TestGetReturnsDefaultForUnknownOffice(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, kv.NewMemory())

	cfg, degraded, err := s.Get(context.Background(), "office-1")
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Equal(t, "office-1", cfg.OfficeID)
	assert.Equal(t, 1, cfg.Version)
	assert.InDelta(t, 150.0, cfg.Rate(model.RoleArquitetura), 1e-9)
}

func TestUpdateIncrementsVersion(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, kv.NewMemory())
	ctx := context.Background()

	updated, err := s.Update(ctx, "office-1", func(c *model.OfficeConfig) error {
		c.HourlyRates[model.RoleArquitetura] = 180
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.InDelta(t, 180.0, updated.Rate(model.RoleArquitetura), 1e-9)

	// A fresh read sees the new version, not the cached pre-update one.
	cfg, degraded, err := s.Get(ctx, "office-1")
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Equal(t, 2, cfg.Version)
	assert.InDelta(t, 180.0, cfg.Rate(model.RoleArquitetura), 1e-9)
}

func TestUpdateMutateErrorLeavesConfigUntouched(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, kv.NewMemory())
	ctx := context.Background()

	_, err := s.Update(ctx, "office-1", func(c *model.OfficeConfig) error {
		c.HourlyRates[model.RoleArquitetura] = 999
		return eris.New("invalid rate")
	})
	require.Error(t, err)

	cfg, _, err := s.Get(ctx, "office-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Version)
	assert.InDelta(t, 150.0, cfg.Rate(model.RoleArquitetura), 1e-9)
}

func TestUpdateContentionReturnsLockBusy(t *testing.T) {
	t.Parallel()
	substrate := kv.NewMemory()
	s := newTestStore(t, substrate)
	ctx := context.Background()

	// Hold the office lock with a foreign token.
	locks := lock.NewManager(substrate, time.Minute)
	token := lock.NewToken()
	won, err := locks.TryAcquire(ctx, "config:office-1:lock", token)
	require.NoError(t, err)
	require.True(t, won)

	_, err = s.Update(ctx, "office-1", func(c *model.OfficeConfig) error { return nil })
	assert.ErrorIs(t, err, ErrLockBusy)

	require.NoError(t, locks.Release(ctx, "config:office-1:lock", token))
	_, err = s.Update(ctx, "office-1", func(c *model.OfficeConfig) error { return nil })
	assert.NoError(t, err)
}

func TestConcurrentUpdatesNeverLoseWrites(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, kv.NewMemory())
	ctx := context.Background()

	const workers = 40
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "office-1", func(c *model.OfficeConfig) error {
				c.HourlyRates[model.RoleArquitetura] += 10
				return nil
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrLockBusy)
		}()
	}
	wg.Wait()

	require.Positive(t, wins)
	cfg, _, err := s.Get(ctx, "office-1")
	require.NoError(t, err)
	// Every serialized winner bumped the version and added its delta; no
	// write was overwritten by a concurrent loser.
	assert.Equal(t, 1+wins, cfg.Version)
	assert.InDelta(t, 150.0+10.0*float64(wins), cfg.Rate(model.RoleArquitetura), 1e-9)
}

// flakyStore fails every read with a transient error once tripped.
type flakyStore struct {
	kv.Store
	mu   sync.Mutex
	down bool
}

func (f *flakyStore) trip() {
	f.mu.Lock()
	f.down = true
	f.mu.Unlock()
}

func (f *flakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		return "", false, resilience.NewTransientError(eris.New("connection refused"))
	}
	return f.Store.Get(ctx, key)
}

func TestGetDegradesToDefaultWhenSubstrateDown(t *testing.T) {
	t.Parallel()
	flaky := &flakyStore{Store: kv.NewMemory()}
	s := newTestStore(t, flaky)
	ctx := context.Background()

	_, err := s.Update(ctx, "office-1", func(c *model.OfficeConfig) error {
		c.HourlyRates[model.RoleArquitetura] = 200
		return nil
	})
	require.NoError(t, err)

	flaky.trip()
	cfg, degraded, err := s.Get(ctx, "office-1")
	require.NoError(t, err)
	assert.True(t, degraded)
	// Degraded reads serve the system default, not the customized rates.
	assert.InDelta(t, 150.0, cfg.Rate(model.RoleArquitetura), 1e-9)
}
