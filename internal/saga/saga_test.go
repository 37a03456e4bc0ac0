package saga

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func step(name string, log *[]string, fail bool) Step {
	return Step{
		Name: name,
		Do: func(ctx context.Context) error {
			if fail {
				return eris.New(name + " failed")
			}
			*log = append(*log, "do:"+name)
			return nil
		},
		Undo: func(ctx context.Context) error {
			*log = append(*log, "undo:"+name)
			return nil
		},
	}
}

func TestRunAllStepsSucceed(t *testing.T) {
	t.Parallel()
	var log []string
	err := Run(context.Background(), "test", []Step{
		step("a", &log, false),
		step("b", &log, false),
		step("c", &log, false),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"do:a", "do:b", "do:c"}, log)
}

func TestRunCompensatesInReverseOrder(t *testing.T) {
	t.Parallel()
	var log []string
	err := Run(context.Background(), "test", []Step{
		step("a", &log, false),
		step("b", &log, false),
		step("c", &log, true),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step c")
	assert.Equal(t, []string{"do:a", "do:b", "undo:b", "undo:a"}, log)
}

func TestRunFirstStepFailureCompensatesNothing(t *testing.T) {
	t.Parallel()
	var log []string
	err := Run(context.Background(), "test", []Step{
		step("a", &log, true),
		step("b", &log, false),
	})
	require.Error(t, err)
	assert.Empty(t, log)
}

func TestRunNilUndoIsSkipped(t *testing.T) {
	t.Parallel()
	var log []string
	err := Run(context.Background(), "test", []Step{
		{
			Name: "a",
			Do: func(ctx context.Context) error {
				log = append(log, "do:a")
				return nil
			},
		},
		step("b", &log, true),
	})
	require.Error(t, err)
	assert.Equal(t, []string{"do:a"}, log)
}

func TestRunCompensationFailureKeepsOriginalError(t *testing.T) {
	t.Parallel()
	var log []string
	steps := []Step{
		{
			Name: "a",
			Do:   func(ctx context.Context) error { return nil },
			Undo: func(ctx context.Context) error { return eris.New("undo broke") },
		},
		step("b", &log, true),
	}
	err := Run(context.Background(), "test", steps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b failed")
}
