package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/arcflow/budget-engine/internal/analyzer"
	"github.com/arcflow/budget-engine/internal/cache"
	"github.com/arcflow/budget-engine/internal/configstore"
	"github.com/arcflow/budget-engine/internal/engine"
	"github.com/arcflow/budget-engine/internal/kv"
	"github.com/arcflow/budget-engine/internal/lock"
	"github.com/arcflow/budget-engine/internal/metrics"
	"github.com/arcflow/budget-engine/internal/pricing"
	"github.com/arcflow/budget-engine/internal/queue"
	"github.com/arcflow/budget-engine/internal/resilience"
	"github.com/arcflow/budget-engine/internal/scorer"
	"github.com/arcflow/budget-engine/internal/store"
	"github.com/arcflow/budget-engine/internal/versioner"
)

// engineEnv holds the initialized substrate, stores and the engine
// needed by the generate/queue/serve commands.
type engineEnv struct {
	Store    store.Store
	KV       kv.Store
	Engine   *engine.Engine
	Configs  *configstore.Store
	Queue    *queue.Queue
	Metrics  *metrics.Collector
	Recorder *metrics.Recorder
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.KV != nil {
		_ = e.KV.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured relational backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return store.NewSQLite(cfg.Store.DatabaseURL)
	}
}

// initKV opens the configured kv substrate.
func initKV() (kv.Store, error) {
	switch cfg.KV.Driver {
	case "memory":
		return kv.NewMemory(), nil
	default:
		return kv.NewSQLite(cfg.KV.Path)
	}
}

// initEngine sets up the substrate, stores and pipeline stages and
// builds the Engine. Callers should defer env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	substrate, err := initKV()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	locks := lock.NewManager(substrate, cfg.Lock.TTL())
	recorder := metrics.NewRecorder(substrate)
	sf := cache.New(substrate, locks, cache.Options{
		FillBackoff:    time.Duration(cfg.Cache.FillBackoffMs) * time.Millisecond,
		MaxFillRetries: cfg.Cache.MaxFillRetries,
		OnHit:          recorder.CacheHit,
		OnMiss:         recorder.CacheMiss,
	})
	retry := resilience.RetryConfig{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
	}

	var extractor analyzer.Extractor
	if cfg.Analyzer.UseClaude {
		extractor = analyzer.NewClaudeExtractor(cfg.Anthropic.Key, cfg.Anthropic.Model)
		zap.L().Info("claude extraction assist enabled", zap.String("model", cfg.Anthropic.Model))
	}
	analyzerPolicy := analyzer.DefaultPolicy()
	analyzerPolicy.CacheTTL = time.Duration(cfg.Analyzer.CacheTTLHours) * time.Hour
	analyzerPolicy.CoverageWeight = cfg.Analyzer.CoverageWeight
	analyzerPolicy.ConsistencyWeight = cfg.Analyzer.ConsistencyWeight
	analyzerPolicy.TypologyWeight = cfg.Analyzer.TypologyWeight
	analyzerPolicy.FallbackArea = cfg.Analyzer.FallbackArea
	analyzerPolicy.FallbackConfidence = cfg.Analyzer.FallbackConfidence
	analyzerPolicy.MinPricePerM2 = cfg.Pricing.BandMinPerM2
	analyzerPolicy.MaxPricePerM2 = cfg.Pricing.BandMaxPerM2

	pricingPolicy := pricing.DefaultPolicy()
	pricingPolicy.DefaultBand = pricing.Band{
		Floor:   cfg.Pricing.BandMinPerM2,
		Ceiling: cfg.Pricing.BandMaxPerM2,
	}

	configs := configstore.New(substrate, locks, sf, retry,
		time.Duration(cfg.Cache.ConfigTTLSecs)*time.Second)

	eng := engine.New(
		st,
		configs,
		analyzer.New(sf, extractor, analyzerPolicy),
		scorer.New(scorer.DefaultConfig()),
		pricing.NewEngine(pricingPolicy),
		versioner.New(substrate),
		locks,
		recorder,
	)

	return &engineEnv{
		Store:    st,
		KV:       substrate,
		Engine:   eng,
		Configs:  configs,
		Queue:    queue.New(substrate),
		Metrics:  metrics.NewCollector(substrate),
		Recorder: recorder,
	}, nil
}
