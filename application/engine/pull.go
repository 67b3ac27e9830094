package engine

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"increment/domain/nodekey"
	"increment/domain/schema"
	"increment/infrastructure/storage"
	apperrors "increment/pkg/errors"
)

// Pull evaluates the current value of a concrete node, recomputing it
// (and any stale inputs) on demand. It runs under the engine mutex,
// inside a single storage batch spanning the entire recursive
// evaluation, per spec.
func (e *Engine) Pull(ctx context.Context, head string, args []interface{}) (interface{}, error) {
	if err := e.validateHeadArgs(head, args); err != nil {
		return nil, err
	}

	held := e.lock.Acquire("pull:" + head)
	defer held.Release()

	atomic.AddUint64(&e.pullCount, 1)

	var result interface{}
	err := e.store.Update(func(b *storage.Batch) error {
		v, err := e.pullNode(ctx, b, nodekey.New(head, args))
		if err != nil {
			_ = e.hooks.Execute(ctx, HookPullFailed, &PullEventData{Head: head, Args: args, Err: err})
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	_ = e.hooks.Execute(ctx, HookAfterPull, &PullEventData{Head: head, Args: args, Value: result})
	return result, nil
}

// pullNode is the recursive core of Pull. It must only be called while
// the engine lock is held and inside an active storage batch.
func (e *Engine) pullNode(ctx context.Context, b *storage.Batch, key nodekey.Key) (interface{}, error) {
	canon, err := key.Canonical()
	if err != nil {
		return nil, apperrors.NewStorageError("canonical", key.Head, err)
	}

	if err := e.hooks.Execute(ctx, HookBeforePull, &PullEventData{Head: key.Head, Args: key.Args}); err != nil {
		return nil, err
	}

	cn, err := e.materialize(key, canon)
	if err != nil {
		return nil, err
	}

	// Step 2: fast path.
	fresh, hasFreshness, err := b.GetFreshness(canon)
	if err != nil {
		return nil, err
	}
	if hasFreshness && fresh == storage.FreshnessUpToDate {
		value, hasValue, err := b.GetValue(canon)
		if err != nil {
			return nil, err
		}
		if !hasValue {
			missing := apperrors.NewMissingValue(canon)
			if e.cfg.Strict {
				e.logger.Error("storage corruption: up-to-date node has no stored value", zap.String("node", canon))
				panic(missing)
			}
			return nil, missing
		}
		e.logger.Debug("pull: fast path", zap.String("node", canon))
		return value, nil
	}

	// Step 3: recurse into inputs, reading each counter AFTER the
	// recursive call so it reflects the final state.
	inputValues := make([]interface{}, len(cn.InputKeys))
	inputCounters := make([]uint64, len(cn.InputKeys))
	inputCanonKeys := make([]string, len(cn.InputKeys))
	for i, inputKey := range cn.InputKeys {
		v, err := e.pullNode(ctx, b, inputKey)
		if err != nil {
			return nil, err
		}
		inputValues[i] = v

		inputCanon, err := inputKey.Canonical()
		if err != nil {
			return nil, apperrors.NewStorageError("canonical", inputKey.Head, err)
		}
		inputCanonKeys[i] = inputCanon

		counter, _, err := b.GetCounter(inputCanon)
		if err != nil {
			return nil, err
		}
		inputCounters[i] = counter
	}

	prevValue, hasPrevValue, err := b.GetValue(canon)
	if err != nil {
		return nil, err
	}
	prevRecord, hasPrevRecord, err := b.GetInputsRecord(canon)
	if err != nil {
		return nil, err
	}

	// Step 4: counter-skip.
	if len(cn.InputKeys) > 0 && hasPrevValue && hasPrevRecord {
		if inputListEqual(prevRecord.Inputs, inputCanonKeys) && countersEqual(prevRecord.InputCounters, inputCounters) {
			if err := b.PutInputsRecord(canon, &storage.InputsRecord{Inputs: inputCanonKeys, InputCounters: inputCounters}); err != nil {
				return nil, err
			}
			if err := b.PutFreshness(canon, storage.FreshnessUpToDate); err != nil {
				return nil, err
			}
			atomic.AddUint64(&e.counterSkips, 1)
			_ = e.hooks.Execute(ctx, HookCounterSkip, canon)
			e.logger.Debug("pull: counter skip", zap.String("node", canon))
			return prevValue, nil
		}
	}

	// Step 5: compute.
	var previousValue interface{}
	if hasPrevValue {
		previousValue = prevValue
	}

	_ = e.hooks.Execute(ctx, HookRecompute, canon)
	e.logger.Debug("pull: recompute", zap.String("node", canon))

	out, err := cn.CompiledNode.Computor(inputValues, previousValue, cn.Bindings)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, apperrors.NewInvalidComputorReturnValue(canon)
	}

	if _, isUnchanged := out.(schema.UnchangedType); isUnchanged {
		if !hasPrevValue {
			return nil, apperrors.NewInvalidUnchanged(canon)
		}
		if err := b.PutInputsRecord(canon, &storage.InputsRecord{Inputs: inputCanonKeys, InputCounters: inputCounters}); err != nil {
			return nil, err
		}
		if err := b.PutFreshness(canon, storage.FreshnessUpToDate); err != nil {
			return nil, err
		}
		atomic.AddUint64(&e.unchangedCount, 1)
		_ = e.hooks.Execute(ctx, HookUnchanged, canon)
		e.logger.Debug("pull: unchanged", zap.String("node", canon))
		return previousValue, nil
	}

	prevCounter, _, err := b.GetCounter(canon)
	if err != nil {
		return nil, err
	}
	newCounter := prevCounter + 1

	if err := b.PutCounter(canon, newCounter); err != nil {
		return nil, err
	}
	if err := b.PutValue(canon, out); err != nil {
		return nil, err
	}
	if err := b.PutInputsRecord(canon, &storage.InputsRecord{Inputs: inputCanonKeys, InputCounters: inputCounters}); err != nil {
		return nil, err
	}
	for _, inputCanon := range inputCanonKeys {
		if err := b.AddRevdep(inputCanon, canon); err != nil {
			return nil, err
		}
	}
	if err := b.PutFreshness(canon, storage.FreshnessUpToDate); err != nil {
		return nil, err
	}

	atomic.AddUint64(&e.recomputes, 1)
	e.logger.Debug("pull: computed new value", zap.String("node", canon), zap.Uint64("counter", newCounter))
	return out, nil
}

func inputListEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func countersEqual(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
