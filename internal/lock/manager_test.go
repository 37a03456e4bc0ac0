package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arcflow/budget-engine/internal/kv"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestTryAcquireRelease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewManager(kv.NewMemory(), 0)

	a, b := NewToken(), NewToken()

	won, err := m.TryAcquire(ctx, "config:office-1:lock", a)
	require.NoError(t, err)
	assert.True(t, won)

	// Second holder fails while the lock is held.
	won, err = m.TryAcquire(ctx, "config:office-1:lock", b)
	require.NoError(t, err)
	assert.False(t, won)

	// Independent names don't contend.
	won, err = m.TryAcquire(ctx, "config:office-2:lock", b)
	require.NoError(t, err)
	assert.True(t, won)

	require.NoError(t, m.Release(ctx, "config:office-1:lock", a))
	won, err = m.TryAcquire(ctx, "config:office-1:lock", b)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestReleaseWrongTokenIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewManager(kv.NewMemory(), 0)

	holder, stranger := NewToken(), NewToken()
	won, err := m.TryAcquire(ctx, "l", holder)
	require.NoError(t, err)
	require.True(t, won)

	// A different token must not release the holder's lock.
	require.NoError(t, m.Release(ctx, "l", stranger))
	won, err = m.TryAcquire(ctx, "l", stranger)
	require.NoError(t, err)
	assert.False(t, won, "lock must still be held after foreign release")

	// Releasing an unheld lock is also a no-op.
	require.NoError(t, m.Release(ctx, "l", holder))
	require.NoError(t, m.Release(ctx, "l", holder))
}

func TestLockExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kv.NewMemory()
	now := time.Now()
	store.SetClock(func() time.Time { return now })
	m := NewManager(store, 30*time.Second)

	old, next := NewToken(), NewToken()
	won, err := m.TryAcquire(ctx, "l", old)
	require.NoError(t, err)
	require.True(t, won)

	// After TTL the lock is stealable.
	now = now.Add(31 * time.Second)
	won, err = m.TryAcquire(ctx, "l", next)
	require.NoError(t, err)
	assert.True(t, won)

	// The expired holder cannot release the new holder's lock.
	require.NoError(t, m.Release(ctx, "l", old))
	won, err = m.TryAcquire(ctx, "l", NewToken())
	require.NoError(t, err)
	assert.False(t, won)
}

func TestSingleWinnerUnderContention(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewManager(kv.NewMemory(), 0)

	const n = 50
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := m.TryAcquire(ctx, "contended", NewToken())
			assert.NoError(t, err)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
