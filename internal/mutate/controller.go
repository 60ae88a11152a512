// Package mutate implements the optimistic mutation protocol: write the
// user's intent into the store immediately, issue the remote call, then
// commit or roll back when the network answers. In-flight mutations on the
// same (entity, field) pair are serialized so a slow first request can never
// clobber a newer user action.
package mutate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradesync/internal/core"
	"tradesync/internal/logger"
	"tradesync/internal/pricing"
	"tradesync/internal/store"
)

// RemoteGateway is the narrow remote-collaborator surface the controller
// needs. A successful call may return an authoritative patch echoed by the
// server; nil means "keep the optimistic value".
type RemoteGateway interface {
	ModifyPosition(ctx context.Context, id string, stopLoss, takeProfit *float64) (core.Patch, error)
	ClosePosition(ctx context.Context, id string) (core.Patch, error)
	UpdateStrategy(ctx context.Context, id string, isActive, isPaused *bool) (core.Patch, error)
	SetTradeMode(ctx context.Context, id string, mode core.TradeMode) (core.Patch, error)
}

type mutationKey struct {
	entityID string
	field    core.Field
}

type keyQueue struct {
	waiters []chan struct{}
}

// Controller owns mutation bookkeeping. One instance per client; entry
// points are safe for concurrent use.
type Controller struct {
	store   *store.Store
	gateway RemoteGateway
	// refresh nudges the reconciliation scheduler after a partial bulk
	// failure; convergence is eventual there, not immediate.
	refresh    func()
	convention func() pricing.Convention

	mu       sync.Mutex
	inflight map[mutationKey]*keyQueue
	journal  map[string]*core.PendingMutation
}

// Option tweaks controller construction.
type Option func(*Controller)

// WithRefreshHook wires the reconciliation trigger used by bulk mutations.
func WithRefreshHook(fn func()) Option {
	return func(c *Controller) { c.refresh = fn }
}

// WithConvention supplies the SL/TP sign convention, usually backed by live
// config so a reload takes effect without restart.
func WithConvention(fn func() pricing.Convention) Option {
	return func(c *Controller) { c.convention = fn }
}

// New builds a controller over st and gw.
func New(st *store.Store, gw RemoteGateway, opts ...Option) *Controller {
	c := &Controller{
		store:      st,
		gateway:    gw,
		convention: func() pricing.Convention { return pricing.ConventionSideAware },
		inflight:   make(map[mutationKey]*keyQueue),
		journal:    make(map[string]*core.PendingMutation),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// acquire blocks until every key is free, FIFO behind any in-flight mutation
// on the same key. Keys must arrive in a deterministic order (callers sort by
// field) so two multi-field mutations cannot deadlock.
func (c *Controller) acquire(ctx context.Context, keys []mutationKey) error {
	for i, key := range keys {
		if err := c.acquireOne(ctx, key); err != nil {
			c.releaseAll(keys[:i])
			return err
		}
	}
	return nil
}

func (c *Controller) acquireOne(ctx context.Context, key mutationKey) error {
	c.mu.Lock()
	q, busy := c.inflight[key]
	if !busy {
		c.inflight[key] = &keyQueue{}
		c.mu.Unlock()
		return nil
	}
	wait := make(chan struct{})
	q.waiters = append(q.waiters, wait)
	c.mu.Unlock()

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		if q, ok := c.inflight[key]; ok {
			for i, w := range q.waiters {
				if w == wait {
					q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
					break
				}
			}
		}
		c.mu.Unlock()
		// The slot may have been handed to us between ctx firing and the
		// lock; pass it on if so.
		select {
		case <-wait:
			c.release(key)
		default:
		}
		return ctx.Err()
	}
}

func (c *Controller) release(key mutationKey) {
	c.mu.Lock()
	q, ok := c.inflight[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	if len(q.waiters) == 0 {
		delete(c.inflight, key)
		c.mu.Unlock()
		return
	}
	next := q.waiters[0]
	q.waiters = q.waiters[1:]
	c.mu.Unlock()
	close(next)
}

func (c *Controller) releaseAll(keys []mutationKey) {
	for _, key := range keys {
		c.release(key)
	}
}

// HasPending reports whether an unresolved mutation holds the key. Exposed
// for the API surface and tests.
func (c *Controller) HasPending(entityID string, field core.Field) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[mutationKey{entityID: entityID, field: field}]
	return ok
}

// Mutations returns a snapshot of the mutation journal, newest first left to
// the caller to sort; mainly for diagnostics endpoints.
func (c *Controller) Mutations() []core.PendingMutation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.PendingMutation, 0, len(c.journal))
	for _, rec := range c.journal {
		out = append(out, *rec)
	}
	return out
}

func (c *Controller) record(rec *core.PendingMutation) {
	c.mu.Lock()
	c.journal[rec.RequestID] = rec
	c.mu.Unlock()
}

func (c *Controller) settle(rec *core.PendingMutation, state core.MutationState) {
	now := time.Now()
	c.mu.Lock()
	rec.State = state
	rec.SettledAt = &now
	c.mu.Unlock()
}

type fieldChange struct {
	field    core.Field
	intended any
}

// mutate runs the optimistic protocol for one entity across one or more
// fields backed by a single remote call:
//
//  1. snapshot previous values
//  2. optimistic store write (source=optimistic, pending)
//  3. remote call
//  4. success: settle, then merge any authoritative echo as a REST write
//     failure: settle, revert to the step-1 snapshot as a REST write
//
// The revert target is deliberately the pre-mutation snapshot, not "whatever
// is current"; see DESIGN.md for the trade-off.
func (c *Controller) mutate(ctx context.Context, kind core.EntityKind, entityID string, changes []fieldChange, call func(context.Context) (core.Patch, error)) error {
	keys := make([]mutationKey, 0, len(changes))
	for _, ch := range changes {
		keys = append(keys, mutationKey{entityID: entityID, field: ch.field})
	}
	sortKeys(keys)

	if err := c.acquire(ctx, keys); err != nil {
		return err
	}
	defer c.releaseAll(keys)

	ent, err := c.store.Get(entityID)
	if err != nil {
		return err
	}

	patch := make(core.Patch, len(changes))
	recs := make([]*core.PendingMutation, 0, len(changes))
	for _, ch := range changes {
		prev, _ := ent.Value(ch.field)
		patch[ch.field] = ch.intended
		rec := &core.PendingMutation{
			RequestID: uuid.NewString(),
			EntityID:  entityID,
			Field:     ch.field,
			Previous:  prev,
			Intended:  ch.intended,
			State:     core.MutationPending,
			CreatedAt: time.Now(),
		}
		recs = append(recs, rec)
		c.record(rec)
	}

	seq := c.store.NextSequence(entityID)
	c.store.Upsert(kind, entityID, patch, core.SourceOptimistic, seq)

	authoritative, callErr := call(ctx)

	for _, rec := range recs {
		c.store.ResolveOptimistic(entityID, rec.Field)
	}

	if callErr != nil {
		revert := make(core.Patch, len(recs))
		for _, rec := range recs {
			revert[rec.Field] = rec.Previous
			c.settle(rec, core.MutationRolledBack)
		}
		c.store.Upsert(kind, entityID, revert, core.SourceRest, c.store.NextSequence(entityID))
		logger.Warnf("mutate: rolled back id=%s fields=%d: %v", entityID, len(recs), callErr)
		return callErr
	}

	for _, rec := range recs {
		c.settle(rec, core.MutationCommitted)
	}
	if len(authoritative) > 0 {
		c.store.Upsert(kind, entityID, authoritative, core.SourceRest, c.store.NextSequence(entityID))
	}
	logger.Debugf("mutate: committed id=%s fields=%d", entityID, len(recs))
	return nil
}

// sortKeys orders acquisition by (entity, field) so concurrent multi-key
// mutations always lock in the same order.
func sortKeys(keys []mutationKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].entityID != keys[j].entityID {
			return keys[i].entityID < keys[j].entityID
		}
		return keys[i].field < keys[j].field
	})
}

// PauseResume flips the paused flag of a strategy subscription.
func (c *Controller) PauseResume(ctx context.Context, subscriptionID string) error {
	ent, err := c.store.Get(subscriptionID)
	if err != nil {
		return err
	}
	cur, ok := ent.Value(core.FieldIsPaused)
	if !ok {
		return core.NewValidationError(core.FieldIsPaused, "entity is not a strategy subscription")
	}
	intended := !cur.(bool)
	return c.mutate(ctx, core.KindStrategy, subscriptionID,
		[]fieldChange{{field: core.FieldIsPaused, intended: intended}},
		func(ctx context.Context) (core.Patch, error) {
			return c.gateway.UpdateStrategy(ctx, subscriptionID, nil, &intended)
		})
}

// ToggleActive flips the active flag of a strategy subscription.
func (c *Controller) ToggleActive(ctx context.Context, subscriptionID string) error {
	ent, err := c.store.Get(subscriptionID)
	if err != nil {
		return err
	}
	cur, ok := ent.Value(core.FieldIsActive)
	if !ok {
		return core.NewValidationError(core.FieldIsActive, "entity is not a strategy subscription")
	}
	intended := !cur.(bool)
	return c.mutate(ctx, core.KindStrategy, subscriptionID,
		[]fieldChange{{field: core.FieldIsActive, intended: intended}},
		func(ctx context.Context) (core.Patch, error) {
			return c.gateway.UpdateStrategy(ctx, subscriptionID, &intended, nil)
		})
}

// SetTradeMode switches a subscription between paper and live execution.
func (c *Controller) SetTradeMode(ctx context.Context, subscriptionID string, mode core.TradeMode) error {
	if !core.ValidTradeMode(mode) {
		return core.NewValidationError(core.FieldTradeMode, "trade mode must be paper or live")
	}
	return c.mutate(ctx, core.KindStrategy, subscriptionID,
		[]fieldChange{{field: core.FieldTradeMode, intended: mode}},
		func(ctx context.Context) (core.Patch, error) {
			return c.gateway.SetTradeMode(ctx, subscriptionID, mode)
		})
}

// SlTpValue is one user-entered trigger input.
type SlTpValue struct {
	Unit      pricing.Unit `json:"unit"`
	Magnitude float64      `json:"magnitude"`
}

// SlTpRequest carries the stop-loss and/or take-profit edit of one position.
type SlTpRequest struct {
	StopLoss   *SlTpValue `json:"stop_loss,omitempty"`
	TakeProfit *SlTpValue `json:"take_profit,omitempty"`
}

// SubmitSlTp converts the user input into absolute trigger prices and runs
// the mutation protocol for the provided fields. Conversion failures are
// validation errors and happen before any store write.
func (c *Controller) SubmitSlTp(ctx context.Context, positionID string, req SlTpRequest) error {
	if req.StopLoss == nil && req.TakeProfit == nil {
		return core.NewValidationError("", "no stop-loss or take-profit value provided")
	}
	ent, err := c.store.Get(positionID)
	if err != nil {
		return err
	}
	pos, ok := ent.(*core.Position)
	if !ok {
		return core.NewValidationError("", "entity is not a position")
	}
	conv := c.convention()

	var changes []fieldChange
	var slPtr, tpPtr *float64
	if req.StopLoss != nil {
		trigger, err := pricing.Compute(pos.EntryPrice, pos.Side, pricing.KindStopLoss, req.StopLoss.Unit, req.StopLoss.Magnitude, conv)
		if err != nil {
			return err
		}
		slPtr = &trigger
		changes = append(changes, fieldChange{field: core.FieldStopLoss, intended: &trigger})
	}
	if req.TakeProfit != nil {
		trigger, err := pricing.Compute(pos.EntryPrice, pos.Side, pricing.KindTakeProfit, req.TakeProfit.Unit, req.TakeProfit.Magnitude, conv)
		if err != nil {
			return err
		}
		tpPtr = &trigger
		changes = append(changes, fieldChange{field: core.FieldTakeProfit, intended: &trigger})
	}

	return c.mutate(ctx, core.KindPosition, positionID, changes,
		func(ctx context.Context) (core.Patch, error) {
			return c.gateway.ModifyPosition(ctx, positionID, slPtr, tpPtr)
		})
}

// ClosePosition asks the collaborator to close a position. Closing is not
// optimistic: a locally forged "closed" status would make the record
// immutable and leave nothing to roll back into, so the status transition
// only ever comes from the authoritative response or the realtime stream.
func (c *Controller) ClosePosition(ctx context.Context, positionID string) error {
	if _, err := c.store.Get(positionID); err != nil {
		return err
	}
	authoritative, err := c.gateway.ClosePosition(ctx, positionID)
	if err != nil {
		logger.Warnf("mutate: close position failed id=%s: %v", positionID, err)
		return err
	}
	if len(authoritative) > 0 {
		c.store.Upsert(core.KindPosition, positionID, authoritative, core.SourceRest, c.store.NextSequence(positionID))
	}
	return nil
}
