// Package metrics records pipeline events on the kv substrate and
// aggregates them into point-in-time snapshots.
package metrics

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/arcflow/budget-engine/internal/kv"
)

// Counter keys. Counts are monotonic; the event list is capped reads.
const (
	keyGenerated      = "metricas:orcamentos_gerados"
	keyFailed         = "metricas:orcamentos_falhos"
	keyDegraded       = "metricas:orcamentos_degradados"
	keyCacheHits      = "metricas:cache_hits"
	keyCacheMisses    = "metricas:cache_misses"
	keyLockContention = "metricas:lock_contencao"
	keyEvents         = "metricas:eventos"
)

// maxEvents bounds the snapshot's event scan. The list itself is not
// trimmed; older entries just fall out of the aggregation window.
const maxEvents = 1000

// Event is one recorded generation outcome.
type Event struct {
	BriefingID string        `json:"briefing_id"`
	Outcome    string        `json:"outcome"`
	Duration   time.Duration `json:"duration_ms"`
	At         time.Time     `json:"at"`
}

// Snapshot holds a point-in-time view of engine health.
type Snapshot struct {
	Generated      int64 `json:"orcamentos_gerados"`
	Failed         int64 `json:"orcamentos_falhos"`
	Degraded       int64 `json:"orcamentos_degradados"`
	CacheHits      int64 `json:"cache_hits"`
	CacheMisses    int64 `json:"cache_misses"`
	LockContention int64 `json:"lock_contencao"`

	// Aggregates over the recent event window.
	WindowEvents int           `json:"window_events"`
	AvgDuration  time.Duration `json:"avg_duration_ms"`
	FailRate     float64       `json:"fail_rate"`
	QueueDepth   int           `json:"queue_depth"`
	CollectedAt  time.Time     `json:"collected_at"`
}

// Recorder writes metric counters and events. Recording is best effort:
// a substrate failure is logged and never propagated, so metrics can
// never fail a budget generation.
type Recorder struct {
	store kv.Store
	now   func() time.Time
}

func NewRecorder(store kv.Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// SetClock overrides the time source for tests.
func (r *Recorder) SetClock(now func() time.Time) { r.now = now }

func (r *Recorder) bump(ctx context.Context, key string) {
	if _, err := r.store.Increment(ctx, key); err != nil {
		zap.L().Warn("metrics: increment failed", zap.String("key", key), zap.Error(err))
	}
}

// Generation records a finished generation attempt. outcome is one of
// "ok", "degraded" or "failed".
func (r *Recorder) Generation(ctx context.Context, briefingID, outcome string, elapsed time.Duration) {
	switch outcome {
	case "failed":
		r.bump(ctx, keyFailed)
	case "degraded":
		r.bump(ctx, keyDegraded)
		r.bump(ctx, keyGenerated)
	default:
		r.bump(ctx, keyGenerated)
	}

	ev := Event{
		BriefingID: briefingID,
		Outcome:    outcome,
		Duration:   elapsed,
		At:         r.now(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		zap.L().Warn("metrics: marshal event failed", zap.Error(err))
		return
	}
	if err := r.store.ListPushLeft(ctx, keyEvents, string(data)); err != nil {
		zap.L().Warn("metrics: record event failed", zap.Error(err))
	}
}

// CacheHit and friends feed the cache and lock counters.
func (r *Recorder) CacheHit(ctx context.Context)       { r.bump(ctx, keyCacheHits) }
func (r *Recorder) CacheMiss(ctx context.Context)      { r.bump(ctx, keyCacheMisses) }
func (r *Recorder) LockContention(ctx context.Context) { r.bump(ctx, keyLockContention) }

// Collector aggregates recorded metrics into a Snapshot.
type Collector struct {
	store kv.Store
}

func NewCollector(store kv.Store) *Collector {
	return &Collector{store: store}
}

// Collect reads the counters and the recent event window. queueDepth is
// supplied by the caller so the collector stays decoupled from the queue.
func (c *Collector) Collect(ctx context.Context, queueDepth int) (*Snapshot, error) {
	snap := &Snapshot{
		QueueDepth:  queueDepth,
		CollectedAt: time.Now().UTC(),
	}

	counters := map[string]*int64{
		keyGenerated:      &snap.Generated,
		keyFailed:         &snap.Failed,
		keyDegraded:       &snap.Degraded,
		keyCacheHits:      &snap.CacheHits,
		keyCacheMisses:    &snap.CacheMisses,
		keyLockContention: &snap.LockContention,
	}
	for key, dst := range counters {
		raw, ok, err := c.store.Get(ctx, key)
		if err != nil {
			return nil, eris.Wrapf(err, "metrics: read %s", key)
		}
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "metrics: parse %s", key)
		}
		*dst = n
	}

	raws, err := c.store.ListRange(ctx, keyEvents, 0, maxEvents-1)
	if err != nil {
		return nil, eris.Wrap(err, "metrics: read events")
	}
	var (
		total  time.Duration
		failed int
	)
	for _, raw := range raws {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		snap.WindowEvents++
		total += ev.Duration
		if ev.Outcome == "failed" {
			failed++
		}
	}
	if snap.WindowEvents > 0 {
		snap.AvgDuration = total / time.Duration(snap.WindowEvents)
		snap.FailRate = float64(failed) / float64(snap.WindowEvents)
	}
	return snap, nil
}
