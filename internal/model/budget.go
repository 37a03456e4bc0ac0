package model

import (
	"math"
	"time"
)

// BudgetStatus marks how a budget should be presented to the end user.
type BudgetStatus string

const (
	BudgetStatusFinal          BudgetStatus = "final"
	BudgetStatusEstimated      BudgetStatus = "estimated"       // low-confidence analysis
	BudgetStatusDegraded       BudgetStatus = "degraded"        // computed against fallback config
	BudgetStatusRequiresReview BudgetStatus = "requires_review" // clamped out-of-band price
)

// DisciplineLine holds the priced hours for one discipline.
type DisciplineLine struct {
	Hours float64 `json:"hours"`
	Value float64 `json:"value"`
}

// AppliedMultipliers records the multipliers that produced the total, for
// auditability of regenerated versions.
type AppliedMultipliers struct {
	Complexity float64 `json:"complexity"`
	Typology   float64 `json:"typology"`
}

// Budget is a priced, versioned output of the pipeline. Budgets are
// immutable once created; regeneration produces a new version.
type Budget struct {
	ID                 string                        `json:"id"`
	BriefingID         string                        `json:"briefing_id"`
	OfficeID           string                        `json:"office_id"`
	Version            int                           `json:"version"`
	ValuePerDiscipline map[Discipline]DisciplineLine `json:"value_per_discipline"`
	TotalValue         float64                       `json:"total_value"` // whole currency units
	TotalHours         float64                       `json:"total_hours"`
	ComplexityTier     ComplexityTier                `json:"complexity_tier"`
	Multipliers        AppliedMultipliers            `json:"multipliers_applied"`
	ConfigVersion      int                           `json:"config_version"`
	Status             BudgetStatus                  `json:"status"`
	Flags              []string                      `json:"flags,omitempty"`
	CreatedAt          time.Time                     `json:"created_at"`
}

// Consistent verifies the per-discipline sums against the totals, allowing
// rounding to the smallest currency unit on value.
func (b Budget) Consistent() bool {
	var hours, value float64
	for _, line := range b.ValuePerDiscipline {
		hours += line.Hours
		value += line.Value
	}
	value = value * b.Multipliers.Complexity * b.Multipliers.Typology
	return math.Abs(hours-b.TotalHours) < 1e-9 && math.Abs(value-b.TotalValue) <= 0.5
}

// Flag appends an advisory flag if not already present.
func (b *Budget) Flag(name string) {
	for _, f := range b.Flags {
		if f == name {
			return
		}
	}
	b.Flags = append(b.Flags, name)
}

// BudgetHistoryEntry is an append-only snapshot of a superseded budget
// version. For a given briefing the history versions are exactly
// {1 .. currentVersion-1} with no gaps.
type BudgetHistoryEntry struct {
	BriefingID string    `json:"briefing_id"`
	Version    int       `json:"version"`
	Snapshot   Budget    `json:"snapshot"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
