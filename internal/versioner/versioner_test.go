package versioner

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arcflow/budget-engine/internal/kv"
	"github.com/arcflow/budget-engine/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func makeBudget(total float64) func(version int) (model.Budget, error) {
	return func(version int) (model.Budget, error) {
		return model.Budget{
			OfficeID:   "office-1",
			TotalValue: total,
			Status:     model.BudgetStatusFinal,
		}, nil
	}
}

func TestFirstVersionHasEmptyHistory(t *testing.T) {
	t.Parallel()
	v := New(kv.NewMemory())
	ctx := context.Background()

	b, err := v.CreateOrRegenerate(ctx, "brief-1", "", makeBudget(1000))
	require.NoError(t, err)
	assert.Equal(t, 1, b.Version)
	assert.NotEmpty(t, b.ID)
	assert.False(t, b.CreatedAt.IsZero())

	hist, err := v.History(ctx, "brief-1")
	require.NoError(t, err)
	assert.Empty(t, hist)

	cur, ok, err := v.Current(ctx, "brief-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b.ID, cur.ID)
}

func TestRegenerateArchivesPriorAndBumpsVersion(t *testing.T) {
	t.Parallel()
	v := New(kv.NewMemory())
	ctx := context.Background()

	first, err := v.CreateOrRegenerate(ctx, "brief-1", "", makeBudget(1000))
	require.NoError(t, err)
	second, err := v.CreateOrRegenerate(ctx, "brief-1", "rates changed", makeBudget(1200))
	require.NoError(t, err)
	third, err := v.CreateOrRegenerate(ctx, "brief-1", "scope grew", makeBudget(1500))
	require.NoError(t, err)

	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, 3, third.Version)

	cur, ok, err := v.Current(ctx, "brief-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, cur.Version)
	assert.InDelta(t, 1500.0, cur.TotalValue, 1e-9)

	// History holds exactly versions {1, 2}, newest first, no gaps.
	hist, err := v.History(ctx, "brief-1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, 2, hist[0].Version)
	assert.Equal(t, "scope grew", hist[0].Reason)
	assert.Equal(t, 1, hist[1].Version)
	assert.Equal(t, "rates changed", hist[1].Reason)
	assert.InDelta(t, 1200.0, hist[0].Snapshot.TotalValue, 1e-9)
	assert.InDelta(t, 1000.0, hist[1].Snapshot.TotalValue, 1e-9)
}

func TestComputeFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	v := New(kv.NewMemory())
	ctx := context.Background()

	_, err := v.CreateOrRegenerate(ctx, "brief-1", "", makeBudget(1000))
	require.NoError(t, err)

	_, err = v.CreateOrRegenerate(ctx, "brief-1", "", func(version int) (model.Budget, error) {
		return model.Budget{}, eris.New("pricing unavailable")
	})
	require.Error(t, err)

	cur, ok, err := v.Current(ctx, "brief-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, cur.Version)

	hist, err := v.History(ctx, "brief-1")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

// failingSetStore rejects Set on one key to force the flip step to fail
// after the archive step succeeded.
type failingSetStore struct {
	kv.Store
	failKey string
}

func (f *failingSetStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == f.failKey {
		return eris.New("write refused")
	}
	return f.Store.Set(ctx, key, value, ttl)
}

func TestFlipFailureCompensatesHistoryAppend(t *testing.T) {
	t.Parallel()
	mem := kv.NewMemory()
	ctx := context.Background()

	v := New(mem)
	_, err := v.CreateOrRegenerate(ctx, "brief-1", "", makeBudget(1000))
	require.NoError(t, err)

	broken := New(&failingSetStore{Store: mem, failKey: "orcamento:brief-1"})
	_, err = broken.CreateOrRegenerate(ctx, "brief-1", "retry", makeBudget(2000))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrPartialWrite), "flip failure after archive should carry the partial-write sentinel")

	// The archived entry was rolled back; no history references the
	// version that is still current.
	hist, err := v.History(ctx, "brief-1")
	require.NoError(t, err)
	assert.Empty(t, hist)

	cur, ok, err := v.Current(ctx, "brief-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, cur.Version)

	// The briefing recovers on the next attempt.
	b, err := v.CreateOrRegenerate(ctx, "brief-1", "retry", makeBudget(2000))
	require.NoError(t, err)
	assert.Equal(t, 2, b.Version)
	hist, err = v.History(ctx, "brief-1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 1, hist[0].Version)
}

func TestFirstVersionFlipFailureIsNotPartialWrite(t *testing.T) {
	t.Parallel()
	broken := New(&failingSetStore{Store: kv.NewMemory(), failKey: "orcamento:brief-1"})

	_, err := broken.CreateOrRegenerate(context.Background(), "brief-1", "", makeBudget(1000))
	require.Error(t, err)
	assert.False(t, eris.Is(err, ErrPartialWrite), "nothing was archived, so no partial write")
}

func TestCompensationPreservesOlderHistory(t *testing.T) {
	t.Parallel()
	mem := kv.NewMemory()
	ctx := context.Background()

	v := New(mem)
	for i := 0; i < 3; i++ {
		_, err := v.CreateOrRegenerate(ctx, "brief-1", "", makeBudget(float64(1000+i)))
		require.NoError(t, err)
	}

	broken := New(&failingSetStore{Store: mem, failKey: "orcamento:brief-1"})
	_, err := broken.CreateOrRegenerate(ctx, "brief-1", "", makeBudget(5000))
	require.Error(t, err)

	hist, err := v.History(ctx, "brief-1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, 2, hist[0].Version)
	assert.Equal(t, 1, hist[1].Version)
}
