// Package lock provides named mutual exclusion over the kv substrate.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arcflow/budget-engine/internal/kv"
)

// DefaultTTL bounds how long a crashed holder can keep a lock. Release is
// always token-checked, so a holder that lost its lock to expiry cannot
// release a successor's lock.
const DefaultTTL = 30 * time.Second

// Manager hands out named locks backed by kv SetIfNotExists. Both
// TryAcquire and Release are non-blocking.
//
// Caller contract: an operation that must hold two or more named locks
// simultaneously acquires them in lexicographic order of resource name to
// prevent circular wait. The manager does not enforce this.
type Manager struct {
	store kv.Store
	ttl   time.Duration
}

// NewManager creates a Manager with the given lock TTL. A non-positive ttl
// uses DefaultTTL.
func NewManager(store kv.Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl}
}

// NewToken returns a fresh owner token for a logical operation.
func NewToken() string {
	return uuid.New().String()
}

// TryAcquire attempts to take the named lock for ownerToken. Returns true
// on success. It never blocks or retries.
func (m *Manager) TryAcquire(ctx context.Context, name, ownerToken string) (bool, error) {
	won, err := m.store.SetIfNotExists(ctx, name, ownerToken, m.ttl)
	if err != nil {
		return false, err
	}
	if won {
		zap.L().Debug("lock acquired", zap.String("lock", name))
	}
	return won, nil
}

// Release frees the named lock only if ownerToken still holds it. Releasing
// a lock held by another token (or an already-expired lock) is a no-op.
func (m *Manager) Release(ctx context.Context, name, ownerToken string) error {
	current, ok, err := m.store.Get(ctx, name)
	if err != nil {
		return err
	}
	if !ok || current != ownerToken {
		zap.L().Debug("lock release skipped", zap.String("lock", name), zap.Bool("held", ok))
		return nil
	}
	return m.store.Delete(ctx, name)
}
