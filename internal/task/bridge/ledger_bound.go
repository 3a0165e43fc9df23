package bridge

import (
	"context"
	"errors"

	"mycelium/internal/task"
	logx "mycelium/pkg/logx"
)

// Store is the part of the ledger a fire-time handler needs.
type Store interface {
	Get(ctx context.Context, id string) (task.DeferredTask, error)
	MostRecentByKind(ctx context.Context, kind string) (task.DeferredTask, error)
	DeleteByID(ctx context.Context, id string) (bool, error)
}

// Effect applies a task's side effect.
type Effect func(ctx context.Context, t task.DeferredTask) error

// LedgerBound wraps an Effect with the fire-time ledger protocol:
//
//  1. resolve the row (by the ref's task id, else the newest row of the kind)
//  2. a missing row is a no-op: the task was cancelled or already done
//  3. run the effect
//  4. delete the row on success or on a task.Definitive failure; keep it
//     otherwise so the next restart retries it
func LedgerBound(store Store, log logx.Logger, fn Effect) Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return func(ctx context.Context, inv Invocation) error {
		t, err := resolve(ctx, store, inv)
		if errors.Is(err, task.ErrNotFound) {
			log.Debug("fire found no ledger row; skipping", logx.Task(inv.Ref.TaskID, inv.Kind))
			return nil
		}
		if err != nil {
			return err
		}

		effErr := fn(ctx, t)
		if effErr != nil && !task.IsDefinitive(effErr) {
			return effErr
		}
		if _, err := store.DeleteByID(ctx, t.ID); err != nil {
			// The effect already happened; a retry would repeat it.
			log.Error("task effect applied but row delete failed", logx.Task(t.ID, t.Kind), logx.Err(err))
			return task.Definitive(err)
		}
		if effErr != nil {
			log.Warn("task failed definitively; row removed", logx.Task(t.ID, t.Kind), logx.Err(effErr))
			return effErr
		}
		return nil
	}
}

func resolve(ctx context.Context, store Store, inv Invocation) (task.DeferredTask, error) {
	if inv.Ref.TaskID != "" {
		return store.Get(ctx, inv.Ref.TaskID)
	}
	return store.MostRecentByKind(ctx, inv.Kind)
}
