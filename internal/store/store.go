// Package store persists briefings and budget records in the relational
// system of record. The kv substrate holds the hot state; this store is
// the durable mirror queried by the rest of the practice-management
// suite.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/arcflow/budget-engine/internal/model"
)

// ErrNotFound is returned when a briefing or budget id does not exist.
var ErrNotFound = eris.New("store: not found")

// BriefingFilter specifies criteria for listing briefings.
type BriefingFilter struct {
	OfficeID string               `json:"office_id,omitempty"`
	Status   model.BriefingStatus `json:"status,omitempty"`
	Limit    int                  `json:"limit,omitempty"`
	Offset   int                  `json:"offset,omitempty"`
}

// Store defines the persistence interface for briefings and generated
// budgets.
type Store interface {
	// Briefings
	SaveBriefing(ctx context.Context, b model.Briefing) error
	GetBriefing(ctx context.Context, id string) (model.Briefing, error)
	ListBriefings(ctx context.Context, filter BriefingFilter) ([]model.Briefing, error)

	// Budget records
	RecordBudget(ctx context.Context, b model.Budget) error
	ListBudgets(ctx context.Context, briefingID string) ([]model.Budget, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
