package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcflow/budget-engine/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_GetBriefing_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT document FROM briefings WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetBriefing(context.Background(), "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetBriefing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	doc, err := json.Marshal(model.Briefing{
		ID:       "brief-1",
		OfficeID: "office-1",
		Typology: model.TypologyComercial,
		Area:     320,
		Status:   model.BriefingStatusCompleted,
	})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT document FROM briefings WHERE id = \$1`).
		WithArgs("brief-1").
		WillReturnRows(pgxmock.NewRows([]string{"document"}).AddRow(doc))

	b, err := s.GetBriefing(context.Background(), "brief-1")
	require.NoError(t, err)
	assert.Equal(t, model.TypologyComercial, b.Typology)
	assert.InDelta(t, 320.0, b.Area, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveBriefing_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO briefings`).
		WithArgs("brief-1", "office-1", "COMPLETED",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveBriefing(context.Background(), model.Briefing{
		ID:       "brief-1",
		OfficeID: "office-1",
		Status:   model.BriefingStatusCompleted,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordBudget(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO budgets`).
		WithArgs("budget-1", "brief-1", "office-1", 2, "final",
			53352.0, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordBudget(context.Background(), model.Budget{
		ID:         "budget-1",
		BriefingID: "brief-1",
		OfficeID:   "office-1",
		Version:    2,
		Status:     model.BudgetStatusFinal,
		TotalValue: 53352,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListBudgets(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	newer, err := json.Marshal(model.Budget{BriefingID: "brief-1", Version: 2, TotalValue: 60000})
	require.NoError(t, err)
	older, err := json.Marshal(model.Budget{BriefingID: "brief-1", Version: 1, TotalValue: 50000})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT payload FROM budgets WHERE briefing_id = \$1`).
		WithArgs("brief-1").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(newer).AddRow(older))

	budgets, err := s.ListBudgets(context.Background(), "brief-1")
	require.NoError(t, err)
	require.Len(t, budgets, 2)
	assert.Equal(t, 2, budgets[0].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListBriefings_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	doc, err := json.Marshal(model.Briefing{ID: "brief-1", OfficeID: "office-1"})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT document FROM briefings WHERE 1=1 AND office_id = \$1 AND status = \$2 ORDER BY created_at DESC LIMIT \$3`).
		WithArgs("office-1", "COMPLETED", 10).
		WillReturnRows(pgxmock.NewRows([]string{"document"}).AddRow(doc))

	list, err := s.ListBriefings(context.Background(), BriefingFilter{
		OfficeID: "office-1",
		Status:   model.BriefingStatusCompleted,
		Limit:    10,
	})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
