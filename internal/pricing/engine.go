// Package pricing computes priced budgets from extracted features and
// office configuration.
package pricing

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/arcflow/budget-engine/internal/model"
	"github.com/arcflow/budget-engine/internal/scorer"
)

// ErrOutOfBand signals that the computed price-per-m² fell outside the
// plausibility band for the typology. The computed budget is still
// returned; callers clamp it instead of hard-failing end users.
var ErrOutOfBand = eris.New("pricing: price per m2 outside plausibility band")

// FlagClamped marks a budget whose total was clamped to a band bound.
const FlagClamped = "preco_ajustado_banda"

// Band is the plausible price-per-m² range for a typology.
type Band struct {
	Floor   float64 `yaml:"floor" mapstructure:"floor"`
	Ceiling float64 `yaml:"ceiling" mapstructure:"ceiling"`
}

// Policy holds the pricing coefficients. All values are policy parameters
// overridable from application config.
type Policy struct {
	// AreaCoefficients give hours per m² of constructed area per discipline.
	AreaCoefficients map[model.Discipline]float64

	// FeatureHours gives fixed hour add-ons per special feature,
	// independent of area.
	FeatureHours map[string]map[model.Discipline]float64

	// Bands give plausible price-per-m² ranges per typology. A missing
	// typology entry falls back to DefaultBand.
	Bands       map[model.Typology]Band
	DefaultBand Band
}

// DefaultPolicy returns the default pricing policy.
func DefaultPolicy() Policy {
	return Policy{
		AreaCoefficients: map[model.Discipline]float64{
			model.DisciplineArquitetura: 0.8,
			model.DisciplineEstrutural:  0.4,
			model.DisciplineEletrica:    0.25,
			model.DisciplineHidraulica:  0.25,
			model.DisciplineInteriores:  0.3,
			model.DisciplinePaisagismo:  0.2,
		},
		FeatureHours: map[string]map[model.Discipline]float64{
			"piscina": {
				model.DisciplinePaisagismo: 24,
				model.DisciplineHidraulica: 8,
			},
			"patio": {
				model.DisciplinePaisagismo: 16,
			},
			"automacao": {
				model.DisciplineEletrica: 20,
			},
		},
		Bands: map[model.Typology]Band{
			model.TypologyResidencial:   {Floor: 40, Ceiling: 5000},
			model.TypologyComercial:     {Floor: 50, Ceiling: 5000},
			model.TypologyIndustrial:    {Floor: 30, Ceiling: 4000},
			model.TypologyInstitucional: {Floor: 50, Ceiling: 5000},
			model.TypologyPersonalizado: {Floor: 40, Ceiling: 8000},
		},
		DefaultBand: Band{Floor: 40, Ceiling: 5000},
	}
}

// Engine prices budgets. Compute is pure and reproducible bit-for-bit for
// the same inputs: per-discipline values stay unrounded and the total is
// rounded to the whole currency unit exactly once, at the end.
type Engine struct {
	policy Policy
}

// NewEngine creates an Engine with the given policy.
func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Compute prices the feature set against an office config and complexity
// tier. Returns ErrOutOfBand (with the computed budget) when the resulting
// price-per-m² falls outside the typology's plausibility band.
func (e *Engine) Compute(features model.ExtractedFeatures, cfg model.OfficeConfig, tier model.ComplexityTier) (model.Budget, error) {
	disciplines := features.RequiredDisciplines
	if len(disciplines) == 0 {
		disciplines = []model.Discipline{model.DisciplineArquitetura, model.DisciplineEstrutural}
	}

	hours := make(map[model.Discipline]float64, len(disciplines))
	for _, d := range disciplines {
		hours[d] = features.Area * e.policy.AreaCoefficients[d]
	}

	// Feature add-ons are fixed hours regardless of area and may pull in
	// disciplines the briefing didn't list.
	for _, feature := range features.SpecialFeatures {
		for d, h := range e.policy.FeatureHours[feature] {
			hours[d] += h
		}
	}

	lines := make(map[model.Discipline]model.DisciplineLine, len(hours))
	var totalHours, subtotal float64
	for _, d := range sortedDisciplines(hours) {
		h := hours[d]
		line := model.DisciplineLine{
			Hours: h,
			Value: h * cfg.Rate(d.Role()),
		}
		lines[d] = line
		totalHours += line.Hours
		subtotal += line.Value
	}

	multipliers := model.AppliedMultipliers{
		Complexity: scorer.TierMultiplier(tier),
		Typology:   cfg.Multiplier(features.Typology),
	}

	budget := model.Budget{
		OfficeID:           cfg.OfficeID,
		ValuePerDiscipline: lines,
		TotalHours:         totalHours,
		TotalValue:         math.Round(subtotal * multipliers.Complexity * multipliers.Typology),
		ComplexityTier:     tier,
		Multipliers:        multipliers,
		ConfigVersion:      cfg.Version,
		Status:             model.BudgetStatusFinal,
	}

	if features.Area > 0 {
		band := e.band(features.Typology)
		perM2 := budget.TotalValue / features.Area
		if perM2 < band.Floor || perM2 > band.Ceiling {
			return budget, ErrOutOfBand
		}
	}

	return budget, nil
}

// Clamp pins an out-of-band budget total to the nearest band bound and
// flags it for review.
func (e *Engine) Clamp(budget model.Budget, features model.ExtractedFeatures) model.Budget {
	if features.Area <= 0 {
		return budget
	}
	band := e.band(features.Typology)
	perM2 := budget.TotalValue / features.Area
	switch {
	case perM2 < band.Floor:
		budget.TotalValue = math.Round(band.Floor * features.Area)
	case perM2 > band.Ceiling:
		budget.TotalValue = math.Round(band.Ceiling * features.Area)
	default:
		return budget
	}
	budget.Status = model.BudgetStatusRequiresReview
	budget.Flag(FlagClamped)
	return budget
}

func (e *Engine) band(t model.Typology) Band {
	if b, ok := e.policy.Bands[t]; ok {
		return b
	}
	return e.policy.DefaultBand
}

// sortedDisciplines returns map keys in a stable order so accumulation
// order (and therefore float rounding) is identical across runs.
func sortedDisciplines(m map[model.Discipline]float64) []model.Discipline {
	out := make([]model.Discipline, 0, len(m))
	for d := range m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
