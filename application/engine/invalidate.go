package engine

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"increment/domain/nodekey"
	"increment/infrastructure/storage"
	apperrors "increment/pkg/errors"
)

// Invalidate marks a node potentially-outdated and propagates
// that mark, by breadth-first traversal of the reverse-dependency
// graph, to every dependent currently considered up-to-date. It runs
// under the engine mutex, inside a single storage batch.
func (e *Engine) Invalidate(ctx context.Context, head string, args []interface{}) error {
	if err := e.validateHeadArgs(head, args); err != nil {
		return err
	}

	held := e.lock.Acquire("invalidate:" + head)
	defer held.Release()

	atomic.AddUint64(&e.invalidateCount, 1)

	if err := e.hooks.Execute(ctx, HookBeforeInvalidate, &InvalidateEventData{Head: head, Args: args}); err != nil {
		return err
	}

	key := nodekey.New(head, args)
	canon, err := key.Canonical()
	if err != nil {
		return apperrors.NewStorageError("canonical", head, err)
	}

	err = e.store.Update(func(b *storage.Batch) error {
		// Materialize the node, which instantiates it from the schema
		// and caches it. No inputs-record is written here: a node that
		// was never pulled gets only the potentially-outdated mark below.
		if _, err := e.materialize(key, canon); err != nil {
			return err
		}

		if err := b.PutFreshness(canon, storage.FreshnessPotentiallyOutdated); err != nil {
			return err
		}

		visited := map[string]bool{canon: true}
		queue := []string{canon}

		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]

			deps, err := b.GetRevdeps(current)
			if err != nil {
				return err
			}

			for _, dep := range deps {
				if visited[dep] {
					continue
				}
				visited[dep] = true

				_ = e.hooks.Execute(ctx, HookInvalidateVisit, dep)

				fresh, ok, err := b.GetFreshness(dep)
				if err != nil {
					return err
				}
				// Only descend through dependents that were
				// up-to-date: a branch already potentially-outdated
				// (or never evaluated) has already propagated, or
				// will propagate when next pulled, so re-walking it
				// here would be wasted work.
				if !ok || fresh != storage.FreshnessUpToDate {
					continue
				}

				if err := b.PutFreshness(dep, storage.FreshnessPotentiallyOutdated); err != nil {
					return err
				}
				queue = append(queue, dep)
			}
		}

		e.logger.Debug("invalidate: propagated", zap.String("node", canon), zap.Int("visited", len(visited)))
		return nil
	})
	if err != nil {
		return err
	}

	_ = e.hooks.Execute(ctx, HookAfterInvalidate, &InvalidateEventData{Head: head, Args: args})
	return nil
}
