package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcflow/budget-engine/internal/model"
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleBriefing(id string) model.Briefing {
	return model.Briefing{
		ID:       id,
		OfficeID: "office-1",
		Typology: model.TypologyResidencial,
		Area:     180,
		FreeformAnswers: map[string]string{
			"descricao": "casa de 180 m2 com piscina",
		},
		Status: model.BriefingStatusCompleted,
	}
}

func TestSQLiteBriefingRoundTrip(t *testing.T) {
	t.Parallel()
	s := newSQLite(t)
	ctx := context.Background()

	in := sampleBriefing("brief-1")
	require.NoError(t, s.SaveBriefing(ctx, in))

	out, err := s.GetBriefing(ctx, "brief-1")
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Typology, out.Typology)
	assert.InDelta(t, in.Area, out.Area, 1e-9)
	assert.Equal(t, in.FreeformAnswers, out.FreeformAnswers)
	assert.False(t, out.UpdatedAt.IsZero())
}

func TestSQLiteGetBriefingNotFound(t *testing.T) {
	t.Parallel()
	s := newSQLite(t)

	_, err := s.GetBriefing(context.Background(), "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteSaveBriefingUpsert(t *testing.T) {
	t.Parallel()
	s := newSQLite(t)
	ctx := context.Background()

	b := sampleBriefing("brief-1")
	b.Status = model.BriefingStatusDraft
	require.NoError(t, s.SaveBriefing(ctx, b))

	b.Status = model.BriefingStatusCompleted
	require.NoError(t, s.SaveBriefing(ctx, b))

	out, err := s.GetBriefing(ctx, "brief-1")
	require.NoError(t, err)
	assert.Equal(t, model.BriefingStatusCompleted, out.Status)

	list, err := s.ListBriefings(ctx, BriefingFilter{OfficeID: "office-1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSQLiteListBriefingsFilters(t *testing.T) {
	t.Parallel()
	s := newSQLite(t)
	ctx := context.Background()

	a := sampleBriefing("brief-a")
	b := sampleBriefing("brief-b")
	b.OfficeID = "office-2"
	c := sampleBriefing("brief-c")
	c.Status = model.BriefingStatusDraft
	for _, br := range []model.Briefing{a, b, c} {
		require.NoError(t, s.SaveBriefing(ctx, br))
	}

	byOffice, err := s.ListBriefings(ctx, BriefingFilter{OfficeID: "office-1"})
	require.NoError(t, err)
	assert.Len(t, byOffice, 2)

	completed, err := s.ListBriefings(ctx, BriefingFilter{
		OfficeID: "office-1",
		Status:   model.BriefingStatusCompleted,
	})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "brief-a", completed[0].ID)

	limited, err := s.ListBriefings(ctx, BriefingFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLiteBudgetRecords(t *testing.T) {
	t.Parallel()
	s := newSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.SaveBriefing(ctx, sampleBriefing("brief-1")))

	for v := 1; v <= 3; v++ {
		require.NoError(t, s.RecordBudget(ctx, model.Budget{
			ID:         uuidLike(v),
			BriefingID: "brief-1",
			OfficeID:   "office-1",
			Version:    v,
			Status:     model.BudgetStatusFinal,
			TotalValue: float64(50000 + v),
		}))
	}

	budgets, err := s.ListBudgets(ctx, "brief-1")
	require.NoError(t, err)
	require.Len(t, budgets, 3)
	assert.Equal(t, 3, budgets[0].Version)
	assert.Equal(t, 1, budgets[2].Version)
}

func uuidLike(v int) string {
	return "00000000-0000-0000-0000-00000000000" + string(rune('0'+v))
}
