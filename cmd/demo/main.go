// Command demo wires a small schema into an Engine and exercises
// pull/invalidate end to end, the way the teacher's cmd/api demonstrates
// its own HTTP wiring with a minimal smoke path.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"increment/application/engine"
	"increment/domain/schema"
	"increment/infrastructure/config"
	"increment/pkg/common"
	"increment/pkg/utils"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.LoadEngineConfig()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	defs := []schema.NodeDef{
		{
			OutputPattern: "a(x)",
			Computor: func(inputValues []interface{}, previousValue interface{}, bindings map[string]interface{}) (interface{}, error) {
				return bindings["x"], nil
			},
		},
		{
			OutputPattern: "b(x)",
			InputPatterns: []string{"a(x)"},
			Computor: func(inputValues []interface{}, previousValue interface{}, bindings map[string]interface{}) (interface{}, error) {
				return inputValues[0].(float64) * 2, nil
			},
		},
	}

	e, err := engine.NewEngine(cfg, defs, logger)
	if err != nil {
		logger.Fatal("build engine", zap.Error(err))
	}
	defer e.Close()

	e.Hooks().Register(engine.HookRecompute, func(ctx context.Context, data interface{}) error {
		logger.Info("recompute", zap.Any("node", data), zap.String("at", utils.NowRFC3339()))
		return nil
	})

	ctx := common.EnrichContext(context.Background(), uuid.NewString())

	v, err := e.Pull(ctx, "b", []interface{}{21.0})
	if err != nil {
		logger.Fatal("pull b", zap.Error(err))
	}
	fmt.Printf("b(21) = %v\n", v)

	if err := e.Invalidate(ctx, "a", []interface{}{21.0}); err != nil {
		logger.Fatal("invalidate a", zap.Error(err))
	}

	v, err = e.Pull(ctx, "b", []interface{}{21.0})
	if err != nil {
		logger.Fatal("pull b after invalidate", zap.Error(err))
	}
	fmt.Printf("b(21) after invalidate = %v\n", v)

	meta := common.ExtractMetadata(ctx)
	logger.Info("demo run complete", zap.String("trace_id", meta.TraceID), zap.Duration("elapsed", meta.Duration))

	stats := e.Stats()
	fmt.Printf("stats: pulls=%d recomputes=%d counterSkips=%d unchanged=%d cacheHits=%d cacheMisses=%d\n",
		stats.PullCount, stats.Recomputes, stats.CounterSkips, stats.UnchangedCount, stats.CacheHits, stats.CacheMisses)
}
