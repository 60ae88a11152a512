// Package ingest consumes push events and translates them into store writes.
// The delivery transport (websocket, webhook) lives elsewhere; this package
// only owns the consumption contract: validate, map to a sparse patch, and
// let the store's precedence rules decide per field.
package ingest

import (
	"context"
	"fmt"
	"time"

	"tradesync/internal/core"
	"tradesync/internal/logger"
	"tradesync/internal/store"
)

// Change classifies an inbound event.
type Change string

const (
	ChangeOpened    Change = "opened"
	ChangeClosed    Change = "closed"
	ChangeSlHit     Change = "sl_hit"
	ChangeTpHit     Change = "tp_hit"
	ChangeMtmUpdate Change = "mtm_update"
	ChangeModified  Change = "modified"
)

func validChange(c Change) bool {
	switch c {
	case ChangeOpened, ChangeClosed, ChangeSlHit, ChangeTpHit, ChangeMtmUpdate, ChangeModified:
		return true
	}
	return false
}

// Event is one decoded push event. Sequence is the per-entity logical counter
// assigned by the emitter; zero means absent, in which case arrival order is
// used (the store assigns the next sequence).
type Event struct {
	Kind     core.EntityKind
	Change   Change
	EntityID string
	Sequence uint64
	Patch    core.Patch
	Occurred time.Time
}

// Ingester applies events to the store. Stateless apart from the store
// reference; safe to call from the transport goroutine.
type Ingester struct {
	store *store.Store
	nowFn func() time.Time
}

// New builds an ingester writing into st.
func New(st *store.Store) *Ingester {
	return &Ingester{store: st, nowFn: time.Now}
}

// Apply translates one event into an upsert. Malformed events return an
// error; callers drop them with a diagnostic and move on. A replayed event
// leaves the store unchanged (sequence-based rejection in the store).
func (ing *Ingester) Apply(evt Event) error {
	if ing == nil || ing.store == nil {
		return fmt.Errorf("ingester not initialised")
	}
	if evt.EntityID == "" {
		return fmt.Errorf("event missing entity id")
	}
	if !validChange(evt.Change) {
		return fmt.Errorf("unknown change type %q", evt.Change)
	}
	kind := evt.Kind
	if kind == "" {
		kind = core.KindPosition
	}

	seq := evt.Sequence
	if seq == 0 {
		seq = ing.store.NextSequence(evt.EntityID)
	}

	patch := make(core.Patch, len(evt.Patch)+2)
	for f, v := range evt.Patch {
		patch[f] = v
	}

	switch evt.Change {
	case ChangeOpened:
		patch[core.FieldStatus] = core.StatusOpen
		if _, ok := patch[core.FieldOpenedAt]; !ok {
			patch[core.FieldOpenedAt] = ing.occurredAt(evt)
		}
	case ChangeClosed, ChangeSlHit, ChangeTpHit:
		patch[core.FieldStatus] = core.StatusClosed
		if _, ok := patch[core.FieldClosedAt]; !ok {
			patch[core.FieldClosedAt] = ing.occurredAt(evt)
		}
	case ChangeMtmUpdate, ChangeModified:
		// Sparse patch as-is; per-field precedence does the rest.
	}

	res := ing.store.Upsert(kind, evt.EntityID, patch, core.SourceRealtime, seq)
	logger.Debugf("ingest: %s %s id=%s seq=%d applied=%d rejected=%d",
		evt.Kind, evt.Change, evt.EntityID, seq, len(res.Applied), len(res.Rejected))
	return nil
}

func (ing *Ingester) occurredAt(evt Event) time.Time {
	if !evt.Occurred.IsZero() {
		return evt.Occurred
	}
	return ing.nowFn()
}

// Run drains events until the channel closes or ctx is cancelled. Events for
// the same entity are applied in receipt order; a bad event never blocks the
// loop.
func (ing *Ingester) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := ing.Apply(evt); err != nil {
				logger.Warnf("ingest: drop event id=%q change=%q: %v", evt.EntityID, evt.Change, err)
			}
		}
	}
}
