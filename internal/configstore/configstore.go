// Package configstore manages per-office pricing configuration as a
// versioned aggregate behind a single-writer lock.
package configstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/arcflow/budget-engine/internal/cache"
	"github.com/arcflow/budget-engine/internal/kv"
	"github.com/arcflow/budget-engine/internal/lock"
	"github.com/arcflow/budget-engine/internal/model"
	"github.com/arcflow/budget-engine/internal/resilience"
)

// ErrLockBusy is returned when an update cannot take the office's config
// lock. The store never retries on the caller's behalf; retry policy is a
// caller decision.
var ErrLockBusy = eris.New("configstore: office config is locked")

// Store reads and updates OfficeConfig records. Reads go through the
// single-flight cache; writes serialize on the `config:{officeId}:lock`
// resource and bump the aggregate version.
type Store struct {
	store    kv.Store
	locks    *lock.Manager
	cache    *cache.SingleFlight
	retry    resilience.RetryConfig
	cacheTTL time.Duration
}

// New creates a Store. cacheTTL <= 0 defaults to 5 minutes.
func New(store kv.Store, locks *lock.Manager, c *cache.SingleFlight, retry resilience.RetryConfig, cacheTTL time.Duration) *Store {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Store{store: store, locks: locks, cache: c, retry: retry, cacheTTL: cacheTTL}
}

func configKey(officeID string) string  { return "config:" + officeID }
func configLock(officeID string) string { return "config:" + officeID + ":lock" }
func cacheKey(officeID string) string   { return "cache:config:" + officeID }

// Get returns the office's config, reading through the cache. When the
// substrate stays unavailable through the retry budget, it returns the
// system-default config with degraded=true instead of failing; callers
// flag the downstream result.
func (s *Store) Get(ctx context.Context, officeID string) (cfg model.OfficeConfig, degraded bool, err error) {
	raw, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (string, error) {
		return s.cache.GetOrCompute(ctx, cacheKey(officeID), s.cacheTTL, func(ctx context.Context) (string, error) {
			return s.load(ctx, officeID)
		})
	})
	if err != nil {
		if resilience.IsTransient(err) {
			zap.L().Warn("configstore: falling back to default config",
				zap.String("office", officeID), zap.Error(err))
			return model.DefaultOfficeConfig(officeID), true, nil
		}
		return model.OfficeConfig{}, false, err
	}

	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return model.OfficeConfig{}, false, eris.Wrapf(err, "configstore: decode config %s", officeID)
	}
	return cfg, false, nil
}

// load fetches the persisted config, falling back to the system default
// for offices that never customized their rates.
func (s *Store) load(ctx context.Context, officeID string) (string, error) {
	raw, ok, err := s.store.Get(ctx, configKey(officeID))
	if err != nil {
		return "", eris.Wrapf(err, "configstore: load %s", officeID)
	}
	if ok {
		return raw, nil
	}
	data, err := json.Marshal(model.DefaultOfficeConfig(officeID))
	if err != nil {
		return "", eris.Wrap(err, "configstore: marshal default")
	}
	return string(data), nil
}

// Update applies mutate to the office's config under its single-writer
// lock, increments the version, and persists. Returns ErrLockBusy without
// retrying when the lock is held; serialized winners never lose updates.
func (s *Store) Update(ctx context.Context, officeID string, mutate func(*model.OfficeConfig) error) (model.OfficeConfig, error) {
	token := lock.NewToken()
	lockName := configLock(officeID)

	won, err := s.locks.TryAcquire(ctx, lockName, token)
	if err != nil {
		return model.OfficeConfig{}, eris.Wrapf(err, "configstore: acquire %s", lockName)
	}
	if !won {
		return model.OfficeConfig{}, ErrLockBusy
	}
	defer func() {
		if relErr := s.locks.Release(ctx, lockName, token); relErr != nil {
			zap.L().Warn("configstore: release lock failed",
				zap.String("lock", lockName), zap.Error(relErr))
		}
	}()

	// Re-read under the lock; the cache may be stale.
	raw, err := s.load(ctx, officeID)
	if err != nil {
		return model.OfficeConfig{}, err
	}
	var current model.OfficeConfig
	if err := json.Unmarshal([]byte(raw), &current); err != nil {
		return model.OfficeConfig{}, eris.Wrapf(err, "configstore: decode config %s", officeID)
	}

	next := current.Clone()
	if err := mutate(&next); err != nil {
		return model.OfficeConfig{}, eris.Wrap(err, "configstore: mutate")
	}
	next.OfficeID = officeID
	next.Version = current.Version + 1

	data, err := json.Marshal(next)
	if err != nil {
		return model.OfficeConfig{}, eris.Wrap(err, "configstore: marshal config")
	}
	if err := s.store.Set(ctx, configKey(officeID), string(data), 0); err != nil {
		return model.OfficeConfig{}, eris.Wrapf(err, "configstore: persist %s", officeID)
	}

	if err := s.cache.Invalidate(ctx, cacheKey(officeID)); err != nil {
		zap.L().Warn("configstore: cache invalidate failed",
			zap.String("office", officeID), zap.Error(err))
	}

	zap.L().Info("configstore: config updated",
		zap.String("office", officeID), zap.Int("version", next.Version))
	return next, nil
}
