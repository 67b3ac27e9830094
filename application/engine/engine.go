// Package engine implements the demand-driven evaluation and
// invalidation algorithms over a compiled schema and its persistent
// storage: pull, invalidate, the counter-skip optimization, and the
// mutex discipline that serializes them.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"sync/atomic"

	"go.uber.org/zap"

	"increment/domain/nodekey"
	"increment/domain/schema"
	"increment/infrastructure/cache"
	"increment/infrastructure/config"
	"increment/infrastructure/storage"
	apperrors "increment/pkg/errors"
	"increment/pkg/utils"
)

var headRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// headValidation enforces the non-empty and length bounds on head
// symbols via utils.StandardHeadValidation.
var headValidation = func(head string) error {
	return utils.StandardHeadValidation()(head)
}

// Stats is a lightweight observability snapshot. Counters are
// accumulated for the lifetime of the Engine.
type Stats struct {
	PullCount       uint64
	InvalidateCount uint64
	CounterSkips    uint64
	Recomputes      uint64
	UnchangedCount  uint64
	CacheHits       uint64
	CacheMisses     uint64
}

// Engine is a compiled schema bound to a persistent store, a bounded
// concrete-node cache, and the mutex serializing all access to them.
type Engine struct {
	schema *schema.Schema
	store  *storage.Store
	cache  *cache.ConcreteNodeCache
	lock   *engineLock
	hooks  *HookManager
	logger *zap.Logger
	cfg    *config.EngineConfig

	pullCount       uint64
	invalidateCount uint64
	counterSkips    uint64
	recomputes      uint64
	unchangedCount  uint64
	cacheHits       uint64
	cacheMisses     uint64
}

// NewEngine compiles defs into a Schema, opens the storage file named
// by cfg under a bucket keyed by the schema hash, and returns a ready
// Engine.
func NewEngine(cfg *config.EngineConfig, defs []schema.NodeDef, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := schema.Compile(defs)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.StoragePath, s.Hash(), logger)
	if err != nil {
		return nil, err
	}

	nodeCache, err := cache.New(cfg.CacheSize)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("engine: create node cache: %w", err)
	}

	return &Engine{
		schema: s,
		store:  store,
		cache:  nodeCache,
		lock:   newEngineLock(logger),
		hooks:  NewHookManager(),
		logger: logger,
		cfg:    cfg,
	}, nil
}

// Close releases the underlying storage file.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Hooks returns the engine's hook manager, for registering observers.
func (e *Engine) Hooks() *HookManager {
	return e.hooks
}

// SchemaHash returns the hex-encoded SHA-256 hash namespacing this
// engine's persistent state.
func (e *Engine) SchemaHash() string {
	return e.schema.Hash()
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	return Stats{
		PullCount:       atomic.LoadUint64(&e.pullCount),
		InvalidateCount: atomic.LoadUint64(&e.invalidateCount),
		CounterSkips:    atomic.LoadUint64(&e.counterSkips),
		Recomputes:      atomic.LoadUint64(&e.recomputes),
		UnchangedCount:  atomic.LoadUint64(&e.unchangedCount),
		CacheHits:       atomic.LoadUint64(&e.cacheHits),
		CacheMisses:     atomic.LoadUint64(&e.cacheMisses),
	}
}

// ListMaterializedNodes returns the canonical keys currently resident
// in the concrete-node LRU cache. This is cache introspection, not a
// persistent-store scan: the store can hold far more nodes than are
// materialized at any moment.
func (e *Engine) ListMaterializedNodes() []string {
	held := e.lock.Acquire("debug:list-materialized-nodes")
	defer held.Release()
	return e.cache.Keys()
}

// Freshness returns the current dirty-bit of a node, for diagnostics.
func (e *Engine) Freshness(head string, args []interface{}) (storage.Freshness, error) {
	if err := e.validateHeadArgs(head, args); err != nil {
		return "", err
	}
	held := e.lock.Acquire(fmt.Sprintf("debug:freshness:%s", head))
	defer held.Release()

	key := nodekey.New(head, args)
	canon, err := key.Canonical()
	if err != nil {
		return "", apperrors.NewStorageError("canonical", head, err)
	}

	var fresh storage.Freshness
	err = e.store.View(func(b *storage.Batch) error {
		f, ok, err := b.GetFreshness(canon)
		if err != nil {
			return err
		}
		if !ok {
			fresh = ""
			return nil
		}
		fresh = f
		return nil
	})
	return fresh, err
}

func (e *Engine) validateHeadArgs(head string, args []interface{}) error {
	if err := headValidation(head); err != nil {
		return apperrors.NewSchemaPatternNotAllowed(head)
	}
	if !headRegexp.MatchString(head) {
		return apperrors.NewSchemaPatternNotAllowed(head)
	}
	cn, ok := e.schema.Head(head)
	if !ok {
		return apperrors.NewInvalidNode(head)
	}
	if len(args) != cn.Arity {
		return apperrors.NewArityMismatch(head, len(args), cn.Arity)
	}
	return nil
}

// materialize looks up or builds the ConcreteNode for key, consulting
// the LRU cache first. Must be called with the engine lock held.
func (e *Engine) materialize(key nodekey.Key, canon string) (*schema.ConcreteNode, error) {
	if cn, ok := e.cache.Get(canon); ok {
		atomic.AddUint64(&e.cacheHits, 1)
		_ = e.hooks.Execute(context.Background(), HookCacheHit, canon)
		return cn, nil
	}
	atomic.AddUint64(&e.cacheMisses, 1)
	_ = e.hooks.Execute(context.Background(), HookCacheMiss, canon)

	cn, err := e.schema.Instantiate(key.Head, key.Args)
	if err != nil {
		return nil, err
	}
	e.cache.Add(canon, cn)
	return cn, nil
}
