package engine_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"increment/application/engine"
	"increment/infrastructure/config"
	"increment/domain/schema"
	apperrors "increment/pkg/errors"
)

func testConfig(t *testing.T) *config.EngineConfig {
	t.Helper()
	return &config.EngineConfig{
		StoragePath: filepath.Join(t.TempDir(), "engine.db"),
		CacheSize:   64,
		LogLevel:    "info",
	}
}

func sourceDef(head string) schema.NodeDef {
	return schema.NodeDef{
		OutputPattern: fmt.Sprintf("%s(x)", head),
		InputPatterns: nil,
		Computor: func(inputValues []interface{}, previousValue interface{}, bindings map[string]interface{}) (interface{}, error) {
			return bindings["x"], nil
		},
	}
}

func TestSourceAndDerivedNodeCompute(t *testing.T) {
	doubleCalls := 0
	defs := []schema.NodeDef{
		sourceDef("a"),
		{
			OutputPattern: "b(x)",
			InputPatterns: []string{"a(x)"},
			Computor: func(inputValues []interface{}, previousValue interface{}, bindings map[string]interface{}) (interface{}, error) {
				doubleCalls++
				return inputValues[0].(float64) * 2, nil
			},
		},
	}

	e, err := engine.NewEngine(testConfig(t), defs, zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	v, err := e.Pull(ctx, "b", []interface{}{21.0})
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
	assert.Equal(t, 1, doubleCalls)

	// A second pull with no intervening invalidation hits the fast path.
	v, err = e.Pull(ctx, "b", []interface{}{21.0})
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
	assert.Equal(t, 1, doubleCalls, "fast path must not recompute")
}

func TestInvalidatePropagatesToDependent(t *testing.T) {
	recomputes := 0
	defs := []schema.NodeDef{
		sourceDef("a"),
		{
			OutputPattern: "b(x)",
			InputPatterns: []string{"a(x)"},
			Computor: func(inputValues []interface{}, previousValue interface{}, bindings map[string]interface{}) (interface{}, error) {
				recomputes++
				return inputValues[0].(float64) * 2, nil
			},
		},
	}
	e, err := engine.NewEngine(testConfig(t), defs, zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	_, err = e.Pull(ctx, "b", []interface{}{10.0})
	require.NoError(t, err)
	assert.Equal(t, 1, recomputes)

	require.NoError(t, e.Invalidate(ctx, "a", []interface{}{10.0}))

	fresh, err := e.Freshness("b", []interface{}{10.0})
	require.NoError(t, err)
	assert.Equal(t, "potentially-outdated", string(fresh))

	_, err = e.Pull(ctx, "b", []interface{}{10.0})
	require.NoError(t, err)
	assert.Equal(t, 2, recomputes, "invalidated dependent must recompute on next pull")
}

func TestUnchangedSuppressesCounterBumpAndDownstreamRecompute(t *testing.T) {
	grandchildCalls := 0
	defs := []schema.NodeDef{
		sourceDef("a"),
		{
			// Rounds a down to an even number; returns Unchanged when the
			// rounded value didn't move, even though a was recomputed.
			OutputPattern: "rounded(x)",
			InputPatterns: []string{"a(x)"},
			Computor: func(inputValues []interface{}, previousValue interface{}, bindings map[string]interface{}) (interface{}, error) {
				v := inputValues[0].(float64)
				rounded := float64(int(v/2) * 2)
				if previousValue != nil && previousValue.(float64) == rounded {
					return schema.Unchanged, nil
				}
				return rounded, nil
			},
		},
		{
			OutputPattern: "grandchild(x)",
			InputPatterns: []string{"rounded(x)"},
			Computor: func(inputValues []interface{}, previousValue interface{}, bindings map[string]interface{}) (interface{}, error) {
				grandchildCalls++
				return inputValues[0], nil
			},
		},
	}
	e, err := engine.NewEngine(testConfig(t), defs, zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	v, err := e.Pull(ctx, "grandchild", []interface{}{10.0})
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)
	assert.Equal(t, 1, grandchildCalls)

	require.NoError(t, e.Invalidate(ctx, "a", []interface{}{10.0}))
	// a recomputes to the same value 10 and its counter is bumped, so
	// rounded recomputes; int(10/2)*2 = 10 equals its previous value, so
	// rounded reports Unchanged and grandchild must not recompute.

	v, err = e.Pull(ctx, "grandchild", []interface{}{10.0})
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)
	assert.Equal(t, 1, grandchildCalls, "unchanged input must not trigger downstream recompute")
}

func TestParameterizedPatternDirtiesOnlyInvalidatedInstance(t *testing.T) {
	pairedCalls := map[string]int{}
	defs := []schema.NodeDef{
		sourceDef("item"),
		{
			OutputPattern: "paired(i)",
			InputPatterns: []string{"item(i)"},
			Computor: func(inputValues []interface{}, previousValue interface{}, bindings map[string]interface{}) (interface{}, error) {
				key := fmt.Sprintf("%v", bindings["i"])
				pairedCalls[key]++
				return inputValues[0], nil
			},
		},
	}
	e, err := engine.NewEngine(testConfig(t), defs, zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	_, err = e.Pull(ctx, "paired", []interface{}{"x"})
	require.NoError(t, err)
	_, err = e.Pull(ctx, "paired", []interface{}{"y"})
	require.NoError(t, err)
	assert.Equal(t, 1, pairedCalls["x"])
	assert.Equal(t, 1, pairedCalls["y"])

	require.NoError(t, e.Invalidate(ctx, "item", []interface{}{"x"}))

	_, err = e.Pull(ctx, "paired", []interface{}{"x"})
	require.NoError(t, err)
	_, err = e.Pull(ctx, "paired", []interface{}{"y"})
	require.NoError(t, err)

	assert.Equal(t, 2, pairedCalls["x"], "only the invalidated instance recomputes")
	assert.Equal(t, 1, pairedCalls["y"], "the untouched instance must not recompute")
}

func TestSchemaCycleRejectedAtConstruction(t *testing.T) {
	defs := []schema.NodeDef{
		{
			OutputPattern: "a(x)",
			InputPatterns: []string{"b(x)"},
			Computor: func(inputValues []interface{}, previousValue interface{}, bindings map[string]interface{}) (interface{}, error) {
				return inputValues[0], nil
			},
		},
		{
			OutputPattern: "b(x)",
			InputPatterns: []string{"a(x)"},
			Computor: func(inputValues []interface{}, previousValue interface{}, bindings map[string]interface{}) (interface{}, error) {
				return inputValues[0], nil
			},
		},
	}
	_, err := engine.NewEngine(testConfig(t), defs, zap.NewNop())
	require.Error(t, err)
	assert.True(t, apperrors.IsSchemaCycle(err))
}

func TestPullArityMismatchRejected(t *testing.T) {
	defs := []schema.NodeDef{sourceDef("a")}
	e, err := engine.NewEngine(testConfig(t), defs, zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Pull(context.Background(), "a", []interface{}{1.0, 2.0})
	require.Error(t, err)
	assert.True(t, apperrors.IsArityMismatch(err))
}

func TestRestartDeterminismWithoutInvalidation(t *testing.T) {
	cfg := testConfig(t)
	defs := []schema.NodeDef{
		sourceDef("a"),
		{
			OutputPattern: "b(x)",
			InputPatterns: []string{"a(x)"},
			Computor: func(inputValues []interface{}, previousValue interface{}, bindings map[string]interface{}) (interface{}, error) {
				return inputValues[0].(float64) * 2, nil
			},
		},
	}

	e1, err := engine.NewEngine(cfg, defs, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()
	v, err := e1.Pull(ctx, "b", []interface{}{5.0})
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)
	require.NoError(t, e1.Close())

	e2, err := engine.NewEngine(cfg, defs, zap.NewNop())
	require.NoError(t, err)
	defer e2.Close()

	fresh, err := e2.Freshness("b", []interface{}{5.0})
	require.NoError(t, err)
	assert.Equal(t, "up-to-date", string(fresh), "freshness must survive a restart without an intervening invalidate")

	v, err = e2.Pull(ctx, "b", []interface{}{5.0})
	require.NoError(t, err)
	assert.Equal(t, 10.0, v, "value must survive a restart without an intervening invalidate")
}
