// Package scorer maps extracted briefing features to a complexity tier.
package scorer

import (
	"github.com/arcflow/budget-engine/internal/model"
)

// Config holds the scoring weights and tier thresholds. Thresholds are
// policy parameters, not business constants; they can be overridden from
// application config.
type Config struct {
	// Area breakpoints in m². Projects above AreaLarge score highest.
	AreaSmall  float64
	AreaMedium float64
	AreaLarge  float64

	// Per-signal points.
	SpecialFeaturePoints float64
	ExtraDisciplinePoints float64
	TypologyPoints       map[model.Typology]float64

	// Tier thresholds on the cumulative score (inclusive lower bounds).
	MediaThreshold     float64
	AltaThreshold      float64
	MuitoAltaThreshold float64
}

// DefaultConfig returns the default scoring policy.
func DefaultConfig() Config {
	return Config{
		AreaSmall:  100,
		AreaMedium: 250,
		AreaLarge:  600,

		SpecialFeaturePoints:  0.5,
		ExtraDisciplinePoints: 0.5,
		TypologyPoints: map[model.Typology]float64{
			model.TypologyResidencial:   0,
			model.TypologyComercial:     0.5,
			model.TypologyInstitucional: 0.5,
			model.TypologyIndustrial:    1.0,
			model.TypologyPersonalizado: 1.0,
		},

		MediaThreshold:     2.0,
		AltaThreshold:      3.5,
		MuitoAltaThreshold: 5.0,
	}
}

// Result is a scored complexity classification.
type Result struct {
	Score float64              `json:"score"`
	Tier  model.ComplexityTier `json:"tier"`
}

// Scorer computes complexity tiers. Scoring is pure: the same features
// always produce the same score and tier.
type Scorer struct {
	cfg Config
}

// New creates a Scorer with the given config.
func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score classifies the feature set. Baseline disciplines (architecture plus
// one engineering discipline) are free; each one beyond that adds points.
func (s *Scorer) Score(features model.ExtractedFeatures) Result {
	score := s.areaPoints(features.Area)
	score += float64(len(features.SpecialFeatures)) * s.cfg.SpecialFeaturePoints

	if extra := len(features.RequiredDisciplines) - 2; extra > 0 {
		score += float64(extra) * s.cfg.ExtraDisciplinePoints
	}

	score += s.cfg.TypologyPoints[features.Typology]

	return Result{Score: score, Tier: s.tier(score)}
}

func (s *Scorer) areaPoints(area float64) float64 {
	switch {
	case area <= s.cfg.AreaSmall:
		return 1
	case area <= s.cfg.AreaMedium:
		return 2
	case area <= s.cfg.AreaLarge:
		return 3
	default:
		return 4
	}
}

func (s *Scorer) tier(score float64) model.ComplexityTier {
	switch {
	case score < s.cfg.MediaThreshold:
		return model.ComplexitySimples
	case score < s.cfg.AltaThreshold:
		return model.ComplexityMedia
	case score < s.cfg.MuitoAltaThreshold:
		return model.ComplexityAlta
	default:
		return model.ComplexityMuitoAlta
	}
}

// TierMultiplier returns the price multiplier for a complexity tier.
func TierMultiplier(tier model.ComplexityTier) float64 {
	switch tier {
	case model.ComplexitySimples:
		return 0.85
	case model.ComplexityAlta:
		return 1.3
	case model.ComplexityMuitoAlta:
		return 1.6
	default: // MEDIA and anything unrecognized
		return 1.0
	}
}
