// Package analyzer classifies raw briefings into normalized feature sets.
package analyzer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/arcflow/budget-engine/internal/cache"
	"github.com/arcflow/budget-engine/internal/model"
)

// ErrInsufficientData signals that a briefing lacks the minimum fields
// (usable constructed area) for analysis. Callers recover with Fallback
// rather than failing the pipeline.
var ErrInsufficientData = eris.New("analyzer: briefing has insufficient data")

// Extractor produces features from a briefing. The optional LLM-backed
// extractor implements this; extraction failures fall back to the built-in
// heuristics.
type Extractor interface {
	Extract(ctx context.Context, b model.Briefing) (model.ExtractedFeatures, error)
}

// Policy holds the analyzer's tunable parameters. The confidence weights
// are policy, not business constants; they default to the observed
// 0.4/0.4/0.2 split.
type Policy struct {
	CoverageWeight    float64
	ConsistencyWeight float64
	TypologyWeight    float64

	// FallbackArea is the default area class applied when a briefing has
	// no usable area.
	FallbackArea       float64
	FallbackConfidence float64

	// Reference-budget plausibility band (R$ per m²).
	MinPricePerM2 float64
	MaxPricePerM2 float64

	// CacheTTL bounds how long an analysis is reused for briefings that
	// normalize to the same content hash.
	CacheTTL time.Duration
}

// DefaultPolicy returns the default analyzer policy.
func DefaultPolicy() Policy {
	return Policy{
		CoverageWeight:     0.4,
		ConsistencyWeight:  0.4,
		TypologyWeight:     0.2,
		FallbackArea:       120,
		FallbackConfidence: 0.3,
		MinPricePerM2:      40,
		MaxPricePerM2:      5000,
		CacheTTL:           time.Hour,
	}
}

// Analyzer turns briefings into AnalysisResults, caching by content hash
// so semantically similar briefings reuse one analysis.
type Analyzer struct {
	cache     *cache.SingleFlight
	extractor Extractor // nil = heuristics only
	policy    Policy
}

// New creates an Analyzer. cache may be nil to disable result caching;
// extractor may be nil to use heuristics only.
func New(c *cache.SingleFlight, extractor Extractor, policy Policy) *Analyzer {
	return &Analyzer{cache: c, extractor: extractor, policy: policy}
}

// Analyze classifies a briefing. Returns ErrInsufficientData when no
// usable area can be established; the caller applies Fallback. Results are
// cached keyed by a hash of the normalized answers.
func (a *Analyzer) Analyze(ctx context.Context, b model.Briefing) (model.AnalysisResult, error) {
	if !b.Analyzable() {
		return model.AnalysisResult{}, eris.Errorf("analyzer: briefing %s is not COMPLETED", b.ID)
	}

	if a.cache == nil {
		return a.analyze(ctx, b)
	}

	key := "analise:" + contentHash(b.FreeformAnswers)
	raw, err := a.cache.GetOrCompute(ctx, key, a.policy.CacheTTL, func(ctx context.Context) (string, error) {
		result, err := a.analyze(ctx, b)
		if err != nil {
			return "", err
		}
		data, err := json.Marshal(result)
		if err != nil {
			return "", eris.Wrap(err, "analyzer: marshal result")
		}
		return string(data), nil
	})
	if err != nil {
		if eris.Is(err, ErrInsufficientData) {
			return model.AnalysisResult{}, ErrInsufficientData
		}
		return model.AnalysisResult{}, err
	}

	var result model.AnalysisResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return model.AnalysisResult{}, eris.Wrap(err, "analyzer: unmarshal cached result")
	}
	// Cached under a content hash: another briefing with identical
	// normalized answers may have produced it.
	result.BriefingID = b.ID
	return result, nil
}

func (a *Analyzer) analyze(ctx context.Context, b model.Briefing) (model.AnalysisResult, error) {
	method := "heuristic"
	if b.Area > 0 && b.Typology != "" {
		method = "structured"
	}

	var ex extraction
	if a.extractor != nil && method == "heuristic" {
		if features, err := a.extractor.Extract(ctx, b); err == nil {
			ex = mergeExtracted(b, features)
			method = "claude"
		} else {
			zap.L().Warn("analyzer: extractor failed, using heuristics",
				zap.String("briefing", b.ID), zap.Error(err))
			ex = extractHeuristic(b)
		}
	} else {
		ex = extractHeuristic(b)
	}

	if ex.features.Area <= 0 {
		return model.AnalysisResult{}, ErrInsufficientData
	}

	consistency, findings := checkConsistency(ex.features, a.policy)

	coverage := 0.0
	if ex.totalFields > 0 {
		coverage = float64(ex.mappedFields) / float64(ex.totalFields)
	}
	typologyConfidence := 0.2
	if ex.typologyHit {
		typologyConfidence = 0.8
	}
	if method == "structured" {
		typologyConfidence = 1.0
	}
	if ex.features.Typology == "" {
		ex.features.Typology = model.TypologyPersonalizado
	}

	confidence := clamp01(a.policy.CoverageWeight*coverage +
		a.policy.ConsistencyWeight*consistency +
		a.policy.TypologyWeight*typologyConfidence)

	return model.AnalysisResult{
		BriefingID: b.ID,
		Features:   ex.features,
		Confidence: confidence,
		Method:     method,
		Findings:   findings,
	}, nil
}

// Fallback returns the documented default analysis for briefings with
// insufficient or corrupt data: default area class, MEDIA complexity,
// confidence capped at the fallback level.
func (a *Analyzer) Fallback(b model.Briefing) model.AnalysisResult {
	typology := b.Typology
	if typology == "" {
		typology = model.TypologyResidencial
	}
	return model.AnalysisResult{
		BriefingID: b.ID,
		Features: model.ExtractedFeatures{
			Area:           a.policy.FallbackArea,
			Typology:       typology,
			ComplexityTier: model.ComplexityMedia,
			RequiredDisciplines: []model.Discipline{
				model.DisciplineArquitetura,
				model.DisciplineEstrutural,
			},
		},
		Confidence: a.policy.FallbackConfidence,
		Method:     "fallback",
	}
}

// mergeExtracted overlays LLM-extracted features on the briefing's own
// structured fields, which stay authoritative when present.
func mergeExtracted(b model.Briefing, features model.ExtractedFeatures) extraction {
	if b.Area > 0 {
		features.Area = b.Area
	}
	if b.Typology != "" {
		features.Typology = b.Typology
	}
	if len(features.RequiredDisciplines) == 0 {
		features.RequiredDisciplines = []model.Discipline{
			model.DisciplineArquitetura,
			model.DisciplineEstrutural,
		}
	}

	mapped := 0
	for _, present := range []bool{
		features.Area > 0,
		features.Typology != "",
		features.LandArea > 0,
		features.Capacity > 0,
		features.ReferenceBudget > 0,
	} {
		if present {
			mapped++
		}
	}
	return extraction{
		features:     features,
		mappedFields: mapped,
		totalFields:  5,
		typologyHit:  features.Typology != "",
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
