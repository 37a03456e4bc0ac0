// Package engine orchestrates the briefing-to-budget pipeline: analysis,
// complexity scoring, pricing and versioned persistence.
package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/arcflow/budget-engine/internal/analyzer"
	"github.com/arcflow/budget-engine/internal/configstore"
	"github.com/arcflow/budget-engine/internal/lock"
	"github.com/arcflow/budget-engine/internal/metrics"
	"github.com/arcflow/budget-engine/internal/model"
	"github.com/arcflow/budget-engine/internal/pricing"
	"github.com/arcflow/budget-engine/internal/scorer"
	"github.com/arcflow/budget-engine/internal/store"
	"github.com/arcflow/budget-engine/internal/versioner"
)

var (
	// ErrBriefingNotReady rejects briefings that are still in DRAFT.
	ErrBriefingNotReady = eris.New("engine: briefing is not completed")

	// ErrGenerationInProgress means another caller holds the briefing's
	// generation lock.
	ErrGenerationInProgress = eris.New("engine: generation already in progress")
)

// Stage names, in pipeline order.
const (
	StageAnalysis   = "analise"
	StageComplexity = "complexidade"
	StagePricing    = "precificacao"
	StageVersioning = "versionamento"
)

// Budget flags set by the orchestrator.
const (
	FlagLowConfidence  = "confianca_baixa"
	FlagDefaultConfig  = "config_padrao"
	FlagFallbackValues = "valores_fallback"
)

// StageResult records one pipeline stage's outcome.
type StageResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"` // complete | failed
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Result is the output of a generation run.
type Result struct {
	Budget   model.Budget         `json:"budget"`
	Analysis model.AnalysisResult `json:"analysis"`
	Stages   []StageResult        `json:"stages"`
	Degraded bool                 `json:"degraded"`
}

// PartialError is returned when the deadline expires mid-pipeline. It
// names the stages that finished and the stage a retry should resume
// from; no partial budget is persisted.
type PartialError struct {
	CompletedStages []string
	NextStage       string
	Err             error
}

func (e *PartialError) Error() string {
	return "engine: deadline expired before " + e.NextStage
}

func (e *PartialError) Unwrap() error { return e.Err }

// Engine wires the pipeline stages together.
type Engine struct {
	briefings store.Store
	configs   *configstore.Store
	analyzer  *analyzer.Analyzer
	scorer    *scorer.Scorer
	pricer    *pricing.Engine
	versions  *versioner.Versioner
	locks     *lock.Manager
	recorder  *metrics.Recorder
}

func New(
	briefings store.Store,
	configs *configstore.Store,
	an *analyzer.Analyzer,
	sc *scorer.Scorer,
	pr *pricing.Engine,
	vs *versioner.Versioner,
	locks *lock.Manager,
	recorder *metrics.Recorder,
) *Engine {
	return &Engine{
		briefings: briefings,
		configs:   configs,
		analyzer:  an,
		scorer:    sc,
		pricer:    pr,
		versions:  vs,
		locks:     locks,
		recorder:  recorder,
	}
}

// Generate runs the full pipeline for a briefing and persists the next
// budget version. reason annotates the history entry on regeneration.
func (e *Engine) Generate(ctx context.Context, briefingID, reason string) (*Result, error) {
	start := time.Now()
	result, err := e.generate(ctx, briefingID, reason)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "failed"
	case result.Degraded:
		outcome = "degraded"
	}
	e.recorder.Generation(ctx, briefingID, outcome, time.Since(start))
	return result, err
}

func (e *Engine) generate(ctx context.Context, briefingID, reason string) (*Result, error) {
	log := zap.L().With(zap.String("briefing", briefingID))

	briefing, err := e.briefings.GetBriefing(ctx, briefingID)
	if err != nil {
		return nil, eris.Wrap(err, "engine: load briefing")
	}
	if !briefing.Analyzable() {
		return nil, ErrBriefingNotReady
	}

	token := lock.NewToken()
	lockName := "orcamento:" + briefingID + ":lock"
	won, err := e.locks.TryAcquire(ctx, lockName, token)
	if err != nil {
		return nil, eris.Wrap(err, "engine: acquire generation lock")
	}
	if !won {
		e.recorder.LockContention(ctx)
		return nil, ErrGenerationInProgress
	}
	defer func() {
		if relErr := e.locks.Release(ctx, lockName, token); relErr != nil {
			log.Warn("engine: release generation lock failed", zap.Error(relErr))
		}
	}()

	result := &Result{}
	track := func(name string, fn func() error) error {
		stageStart := time.Now()
		err := fn()
		sr := StageResult{
			Name:       name,
			Status:     "complete",
			DurationMs: time.Since(stageStart).Milliseconds(),
		}
		if err != nil {
			sr.Status = "failed"
			sr.Error = err.Error()
			log.Error("engine: stage failed", zap.String("stage", name), zap.Error(err))
		} else {
			log.Info("engine: stage complete",
				zap.String("stage", name),
				zap.Int64("duration_ms", sr.DurationMs))
		}
		result.Stages = append(result.Stages, sr)
		return err
	}
	checkDeadline := func(nextStage string) error {
		if ctx.Err() == nil {
			return nil
		}
		var done []string
		for _, s := range result.Stages {
			done = append(done, s.Name)
		}
		return &PartialError{CompletedStages: done, NextStage: nextStage, Err: ctx.Err()}
	}

	// Analysis. Insufficient data degrades to the fallback features
	// instead of failing the run.
	if err := checkDeadline(StageAnalysis); err != nil {
		return result, err
	}
	var fallback bool
	if err := track(StageAnalysis, func() error {
		a, err := e.analyzer.Analyze(ctx, briefing)
		if err != nil {
			if eris.Is(err, analyzer.ErrInsufficientData) {
				result.Analysis = e.analyzer.Fallback(briefing)
				fallback = true
				return nil
			}
			return err
		}
		result.Analysis = a
		return nil
	}); err != nil {
		return result, err
	}

	// Complexity.
	if err := checkDeadline(StageComplexity); err != nil {
		return result, err
	}
	var tier scorer.Result
	if err := track(StageComplexity, func() error {
		tier = e.scorer.Score(result.Analysis.Features)
		return nil
	}); err != nil {
		return result, err
	}

	// Pricing, against the office's config.
	if err := checkDeadline(StagePricing); err != nil {
		return result, err
	}
	cfg, cfgDegraded, err := e.configs.Get(ctx, briefing.OfficeID)
	if err != nil {
		return result, eris.Wrap(err, "engine: load office config")
	}

	var budget model.Budget
	if err := track(StagePricing, func() error {
		b, err := e.pricer.Compute(result.Analysis.Features, cfg, tier.Tier)
		if err != nil {
			if eris.Is(err, pricing.ErrOutOfBand) {
				budget = e.pricer.Clamp(b, result.Analysis.Features)
				return nil
			}
			return err
		}
		budget = b
		return nil
	}); err != nil {
		return result, err
	}

	budget.OfficeID = briefing.OfficeID
	if fallback {
		budget.Flag(FlagFallbackValues)
	}
	if result.Analysis.LowConfidence() && budget.Status != model.BudgetStatusRequiresReview {
		budget.Status = model.BudgetStatusEstimated
		budget.Flag(FlagLowConfidence)
	}
	if cfgDegraded {
		budget.Status = model.BudgetStatusDegraded
		budget.Flag(FlagDefaultConfig)
		result.Degraded = true
	}

	// Versioning: archive the prior budget and flip the current slot.
	if err := checkDeadline(StageVersioning); err != nil {
		return result, err
	}
	if err := track(StageVersioning, func() error {
		persisted, err := e.versions.CreateOrRegenerate(ctx, briefingID, reason, func(version int) (model.Budget, error) {
			budget.Version = version
			return budget, nil
		})
		if err != nil {
			return err
		}
		budget = persisted
		return nil
	}); err != nil {
		return result, err
	}

	// Mirror to the relational store. Best effort: the kv copy is
	// authoritative for the pipeline.
	if err := e.briefings.RecordBudget(ctx, budget); err != nil {
		log.Warn("engine: record budget mirror failed", zap.Error(err))
	}

	result.Budget = budget
	log.Info("engine: budget generated",
		zap.Int("version", budget.Version),
		zap.String("status", string(budget.Status)),
		zap.Float64("total", budget.TotalValue))
	return result, nil
}

// Current returns the briefing's current budget from the version store.
func (e *Engine) Current(ctx context.Context, briefingID string) (model.Budget, bool, error) {
	return e.versions.Current(ctx, briefingID)
}

// History returns the briefing's superseded budget versions, newest first.
func (e *Engine) History(ctx context.Context, briefingID string) ([]model.BudgetHistoryEntry, error) {
	return e.versions.History(ctx, briefingID)
}
