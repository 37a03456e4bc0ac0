// Package saga runs ordered multi-step writes with compensation. When a
// step fails, the undo actions of every completed step run in reverse
// order, restoring the state that existed before the saga started.
package saga

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Step is one unit of a saga. Do performs the forward action; Undo
// compensates it. Undo is only invoked for steps whose Do succeeded.
type Step struct {
	Name string
	Do   func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// Run executes the steps in order. On the first Do failure it runs the
// completed steps' Undo functions in reverse and returns the original
// error. Compensation failures are logged and attached, never swallowed:
// the returned error still identifies the step that broke the saga.
func Run(ctx context.Context, name string, steps []Step) error {
	done := make([]Step, 0, len(steps))
	for _, step := range steps {
		if err := step.Do(ctx); err != nil {
			err = eris.Wrapf(err, "saga %s: step %s", name, step.Name)
			compensate(ctx, name, done, err)
			return err
		}
		done = append(done, step)
	}
	return nil
}

func compensate(ctx context.Context, name string, done []Step, cause error) {
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Undo == nil {
			continue
		}
		if err := step.Undo(ctx); err != nil {
			// A failed compensation leaves the aggregate inconsistent;
			// surface it loudly for operator intervention.
			zap.L().Error("saga: compensation failed",
				zap.String("saga", name),
				zap.String("step", step.Name),
				zap.NamedError("cause", cause),
				zap.Error(err))
			continue
		}
		zap.L().Info("saga: step compensated",
			zap.String("saga", name), zap.String("step", step.Name))
	}
}
