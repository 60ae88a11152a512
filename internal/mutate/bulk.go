package mutate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tradesync/internal/core"
	"tradesync/internal/logger"
	"tradesync/internal/store"
)

// bulkConcurrency caps the fan-out of remote calls in one bulk action.
const bulkConcurrency = 8

// BulkPauseAll pauses every strategy subscription in one pass: a single
// batched optimistic write (one store notification, not N), then concurrent
// remote calls. Resolution is all-or-nothing at the UI level but not at the
// network level: a partial failure keeps the optimistic state for every
// member and triggers a full reconciliation pass instead of per-item
// rollback, so convergence there is eventual.
func (c *Controller) BulkPauseAll(ctx context.Context) error {
	subs := c.store.Strategies()
	if len(subs) == 0 {
		return nil
	}

	keys := make([]mutationKey, 0, len(subs))
	for _, sub := range subs {
		keys = append(keys, mutationKey{entityID: sub.ID, field: core.FieldIsPaused})
	}
	sortKeys(keys)
	if err := c.acquire(ctx, keys); err != nil {
		return err
	}
	defer c.releaseAll(keys)

	items := make([]store.BatchItem, 0, len(subs))
	recs := make(map[string]*core.PendingMutation, len(subs))
	for _, sub := range subs {
		rec := &core.PendingMutation{
			RequestID: uuid.NewString(),
			EntityID:  sub.ID,
			Field:     core.FieldIsPaused,
			Previous:  sub.IsPaused,
			Intended:  true,
			State:     core.MutationPending,
			CreatedAt: time.Now(),
		}
		recs[sub.ID] = rec
		c.record(rec)
		items = append(items, store.BatchItem{
			Kind:     core.KindStrategy,
			EntityID: sub.ID,
			Patch:    core.Patch{core.FieldIsPaused: true},
			Source:   core.SourceOptimistic,
			Sequence: c.store.NextSequence(sub.ID),
		})
	}
	c.store.UpsertBatch(items)

	paused := true
	var (
		failMu sync.Mutex
		failed = make(map[string]error)
	)
	g, callCtx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(bulkConcurrency)
	for _, sub := range subs {
		id := sub.ID
		g.Go(func() error {
			authoritative, err := c.gateway.UpdateStrategy(callCtx, id, nil, &paused)
			c.store.ResolveOptimistic(id, core.FieldIsPaused)
			if err != nil {
				failMu.Lock()
				failed[id] = err
				failMu.Unlock()
				// Keep the optimistic value; reconciliation converges it.
				c.settle(recs[id], core.MutationRolledBack)
				return nil
			}
			c.settle(recs[id], core.MutationCommitted)
			if len(authoritative) > 0 {
				c.store.Upsert(core.KindStrategy, id, authoritative, core.SourceRest, c.store.NextSequence(id))
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) == 0 {
		logger.Infof("mutate: bulk pause committed members=%d", len(subs))
		return nil
	}

	logger.Warnf("mutate: bulk pause partial failure members=%d failed=%d, scheduling reconciliation", len(subs), len(failed))
	if c.refresh != nil {
		c.refresh()
	}
	return &core.PartialBulkError{Total: len(subs), Failed: failed}
}
