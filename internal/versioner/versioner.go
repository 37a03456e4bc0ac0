// Package versioner owns the storage lifecycle of budgets: one mutable
// "current" slot per briefing plus an append-only history of superseded
// versions.
package versioner

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/arcflow/budget-engine/internal/kv"
	"github.com/arcflow/budget-engine/internal/model"
	"github.com/arcflow/budget-engine/internal/saga"
)

// ErrPartialWrite marks a current-slot flip that failed after the prior
// version was already archived. By the time callers observe it the
// compensating history delete has run, so no half-applied state remains.
var ErrPartialWrite = eris.New("versioner: partial write")

// Versioner persists budgets under `orcamento:{briefingID}` and their
// superseded versions under `historico:{briefingID}`.
type Versioner struct {
	store kv.Store
	now   func() time.Time
}

func New(store kv.Store) *Versioner {
	return &Versioner{store: store, now: time.Now}
}

// SetClock overrides the time source for tests.
func (v *Versioner) SetClock(now func() time.Time) { v.now = now }

func currentKey(briefingID string) string { return "orcamento:" + briefingID }
func historyKey(briefingID string) string { return "historico:" + briefingID }

// Current returns the briefing's current budget, with ok=false when none
// was ever generated.
func (v *Versioner) Current(ctx context.Context, briefingID string) (model.Budget, bool, error) {
	raw, ok, err := v.store.Get(ctx, currentKey(briefingID))
	if err != nil {
		return model.Budget{}, false, eris.Wrapf(err, "versioner: read current %s", briefingID)
	}
	if !ok {
		return model.Budget{}, false, nil
	}
	var b model.Budget
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return model.Budget{}, false, eris.Wrapf(err, "versioner: decode current %s", briefingID)
	}
	return b, true, nil
}

// History returns the superseded versions, newest first.
func (v *Versioner) History(ctx context.Context, briefingID string) ([]model.BudgetHistoryEntry, error) {
	raws, err := v.store.ListRange(ctx, historyKey(briefingID), 0, -1)
	if err != nil {
		return nil, eris.Wrapf(err, "versioner: read history %s", briefingID)
	}
	entries := make([]model.BudgetHistoryEntry, 0, len(raws))
	for _, raw := range raws {
		var e model.BudgetHistoryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, eris.Wrapf(err, "versioner: decode history %s", briefingID)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// CreateOrRegenerate produces the next budget version for a briefing.
// compute receives the version number to stamp on the new budget. The
// write is a two-step saga: the prior current version is archived to
// history first, then the current slot flips to the new budget. If the
// flip fails, the archive step is compensated by popping the entry back
// off, so history never references a version that is still current.
func (v *Versioner) CreateOrRegenerate(ctx context.Context, briefingID, reason string, compute func(version int) (model.Budget, error)) (model.Budget, error) {
	prior, hasPrior, err := v.Current(ctx, briefingID)
	if err != nil {
		return model.Budget{}, err
	}

	version := 1
	if hasPrior {
		version = prior.Version + 1
	}

	next, err := compute(version)
	if err != nil {
		return model.Budget{}, eris.Wrapf(err, "versioner: compute version %d for %s", version, briefingID)
	}
	next.BriefingID = briefingID
	next.Version = version
	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = v.now()
	}

	nextRaw, err := json.Marshal(next)
	if err != nil {
		return model.Budget{}, eris.Wrap(err, "versioner: marshal budget")
	}

	steps := make([]saga.Step, 0, 2)
	if hasPrior {
		entry := model.BudgetHistoryEntry{
			BriefingID: briefingID,
			Version:    prior.Version,
			Snapshot:   prior,
			Reason:     reason,
			CreatedAt:  v.now(),
		}
		entryRaw, err := json.Marshal(entry)
		if err != nil {
			return model.Budget{}, eris.Wrap(err, "versioner: marshal history entry")
		}
		steps = append(steps, saga.Step{
			Name: "archive_prior",
			Do: func(ctx context.Context) error {
				return v.store.ListPushLeft(ctx, historyKey(briefingID), string(entryRaw))
			},
			Undo: func(ctx context.Context) error {
				return v.popNewest(ctx, briefingID, string(entryRaw))
			},
		})
	}
	steps = append(steps, saga.Step{
		Name: "flip_current",
		Do: func(ctx context.Context) error {
			err := v.store.Set(ctx, currentKey(briefingID), string(nextRaw), 0)
			if err != nil && hasPrior {
				return errors.Join(ErrPartialWrite, err)
			}
			return err
		},
	})

	if err := saga.Run(ctx, "budget_version", steps); err != nil {
		return model.Budget{}, err
	}
	return next, nil
}

// popNewest removes the leftmost history entry if it matches the given
// payload. The history list is only ever pushed from the left by the
// version saga, which holds the briefing's generation lock, so the match
// is safe.
func (v *Versioner) popNewest(ctx context.Context, briefingID, payload string) error {
	key := historyKey(briefingID)
	head, err := v.store.ListRange(ctx, key, 0, 0)
	if err != nil {
		return eris.Wrapf(err, "versioner: compensate history %s", briefingID)
	}
	if len(head) == 0 || head[0] != payload {
		return nil
	}
	rest, err := v.store.ListRange(ctx, key, 1, -1)
	if err != nil {
		return eris.Wrapf(err, "versioner: compensate history %s", briefingID)
	}
	if err := v.store.Delete(ctx, key); err != nil {
		return eris.Wrapf(err, "versioner: compensate history %s", briefingID)
	}
	for i := len(rest) - 1; i >= 0; i-- {
		if err := v.store.ListPushLeft(ctx, key, rest[i]); err != nil {
			return eris.Wrapf(err, "versioner: compensate history %s", briefingID)
		}
	}
	return nil
}
