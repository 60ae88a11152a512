// Package store is the single in-memory table of reconciled entities. Three
// unsynchronized writers (REST snapshots, realtime push events, optimistic
// mutations) all funnel through Upsert, which arbitrates per field using
// logical sequences and source precedence so readers always see one coherent,
// monotonically-improving view.
package store

import (
	"sort"
	"sync"

	"tradesync/internal/core"
	"tradesync/internal/logger"
)

// EntityRef identifies one changed entity inside a notification.
type EntityRef struct {
	Kind    core.EntityKind
	ID      string
	Removed bool
}

// Notification is delivered to subscribers after any successful write. A
// batch write produces a single notification covering every touched entity.
type Notification struct {
	Refs []EntityRef
}

// ApplyResult reports which fields of a patch survived precedence
// arbitration. Rejected fields are not errors: a rejection means a fresher
// value already exists.
type ApplyResult struct {
	Created  bool
	Applied  []core.Field
	Rejected []core.Field
}

// Changed reports whether the write touched the entity at all.
func (r ApplyResult) Changed() bool { return r.Created || len(r.Applied) > 0 }

// BatchItem is one entry of an UpsertBatch call.
type BatchItem struct {
	Kind     core.EntityKind
	EntityID string
	Patch    core.Patch
	Source   core.Source
	Sequence uint64
}

// Store holds entities keyed by id together with per-field write stamps and a
// per-entity logical clock. All methods are safe for concurrent use; observer
// callbacks run outside the lock.
type Store struct {
	mu       sync.Mutex
	entities map[string]core.Entity
	stamps   map[string]map[core.Field]core.FieldStamp
	seqs     map[string]uint64

	subMu   sync.Mutex
	subs    map[int]func(Notification)
	nextSub int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		entities: make(map[string]core.Entity),
		stamps:   make(map[string]map[core.Field]core.FieldStamp),
		seqs:     make(map[string]uint64),
		subs:     make(map[int]func(Notification)),
	}
}

// NextSequence advances and returns the logical clock for id. Writers that do
// not carry their own sequence (optimistic mutations, snapshot merges, events
// without one) stamp their writes with this.
func (s *Store) NextSequence(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs[id]++
	return s.seqs[id]
}

// Upsert applies patch field-by-field under the precedence rules and notifies
// subscribers if anything changed. It never fails for data reasons; fields
// losing arbitration are dropped silently and logged at debug.
func (s *Store) Upsert(kind core.EntityKind, id string, patch core.Patch, source core.Source, seq uint64) ApplyResult {
	if id == "" || len(patch) == 0 {
		return ApplyResult{}
	}
	s.mu.Lock()
	res := s.applyLocked(kind, id, patch, source, seq)
	s.mu.Unlock()

	if res.Changed() {
		s.notify(Notification{Refs: []EntityRef{{Kind: kind, ID: id}}})
	}
	return res
}

// UpsertBatch applies several patches as one pass and emits a single
// notification for all touched entities. Used by bulk mutations so observers
// re-render once, not N times.
func (s *Store) UpsertBatch(items []BatchItem) []ApplyResult {
	results := make([]ApplyResult, len(items))
	refs := make([]EntityRef, 0, len(items))

	s.mu.Lock()
	for i, item := range items {
		if item.EntityID == "" || len(item.Patch) == 0 {
			continue
		}
		results[i] = s.applyLocked(item.Kind, item.EntityID, item.Patch, item.Source, item.Sequence)
		if results[i].Changed() {
			refs = append(refs, EntityRef{Kind: item.Kind, ID: item.EntityID})
		}
	}
	s.mu.Unlock()

	if len(refs) > 0 {
		s.notify(Notification{Refs: refs})
	}
	return results
}

func (s *Store) applyLocked(kind core.EntityKind, id string, patch core.Patch, source core.Source, seq uint64) ApplyResult {
	var res ApplyResult

	ent, exists := s.entities[id]
	if !exists {
		ent = core.NewEntity(kind, id)
	}

	// Closed positions are immutable. Replaying the closing event is the only
	// tolerated write and it changes nothing, so rejecting wholesale keeps
	// replays idempotent.
	if pos, ok := ent.(*core.Position); ok && exists && pos.Status == core.StatusClosed {
		for f := range patch {
			res.Rejected = append(res.Rejected, f)
		}
		logger.Debugf("store: drop write to closed position id=%s source=%s seq=%d", id, source, seq)
		return res
	}

	stamps := s.stamps[id]
	if stamps == nil {
		stamps = make(map[core.Field]core.FieldStamp)
	}

	next := core.FieldStamp{Source: source, Sequence: seq, Pending: source == core.SourceOptimistic}
	for _, field := range sortedFields(patch) {
		prev, stamped := stamps[field]
		if stamped && !accepts(prev, next) {
			res.Rejected = append(res.Rejected, field)
			logger.Debugf("store: precedence drop id=%s field=%s source=%s seq=%d (held by %s seq=%d pending=%v)",
				id, field, source, seq, prev.Source, prev.Sequence, prev.Pending)
			continue
		}
		if err := ent.Apply(field, patch[field]); err != nil {
			res.Rejected = append(res.Rejected, field)
			logger.Warnf("store: bad patch value id=%s field=%s: %v", id, field, err)
			continue
		}
		stamps[field] = next
		res.Applied = append(res.Applied, field)
	}

	if len(res.Applied) == 0 {
		return res
	}

	if !exists {
		res.Created = true
	}
	s.entities[id] = ent
	s.stamps[id] = stamps
	if seq > s.seqs[id] {
		s.seqs[id] = seq
	}
	return res
}

// accepts decides whether a new write beats the stamp currently holding the
// field. Precedence order: pending optimistic > realtime > rest.
//
//   - A pending optimistic stamp yields only to a newer optimistic write (the
//     queued next mutation); realtime and REST wait, so a racing snapshot can
//     never visibly un-do an in-flight user action.
//   - Realtime replays with a non-newer sequence are dropped, which makes
//     event replay idempotent; realtime always beats REST-held fields.
//   - A REST write never changes a field back that realtime stamped, and
//     against its own kind (REST or a settled optimistic stamp) it must carry
//     a strictly newer sequence.
func accepts(held, next core.FieldStamp) bool {
	if held.Pending {
		return next.Source == core.SourceOptimistic && next.Sequence > held.Sequence
	}
	switch next.Source {
	case core.SourceOptimistic:
		return true
	case core.SourceRealtime:
		if held.Source == core.SourceRealtime {
			return next.Sequence > held.Sequence
		}
		return true
	default:
		if held.Source == core.SourceRealtime {
			return false
		}
		return next.Sequence > held.Sequence
	}
}

// ResolveOptimistic demotes a pending optimistic stamp once its mutation
// settled, restoring ordinary precedence for the field. No-op when the field
// was already overwritten by another source.
func (s *Store) ResolveOptimistic(id string, field core.Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamps := s.stamps[id]
	if stamps == nil {
		return
	}
	stamp, ok := stamps[field]
	if !ok || stamp.Source != core.SourceOptimistic || !stamp.Pending {
		return
	}
	stamp.Pending = false
	stamps[field] = stamp
}

// Get returns a defensive copy of the entity, or ErrNotFound.
func (s *Store) Get(id string) (core.Entity, error) {
	s.mu.Lock()
	ent, ok := s.entities[id]
	s.mu.Unlock()
	if !ok {
		return nil, core.ErrNotFound
	}
	return ent.Clone(), nil
}

// Stamp exposes the current write stamp for one field, mainly for tests and
// diagnostics.
func (s *Store) Stamp(id string, field core.Field) (core.FieldStamp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamps := s.stamps[id]
	if stamps == nil {
		return core.FieldStamp{}, false
	}
	stamp, ok := stamps[field]
	return stamp, ok
}

// List returns clones of every entity of kind accepted by filter (nil filter
// accepts all), ordered by id for stable output.
func (s *Store) List(kind core.EntityKind, filter func(core.Entity) bool) []core.Entity {
	s.mu.Lock()
	out := make([]core.Entity, 0)
	for _, ent := range s.entities {
		if ent.Kind() != kind {
			continue
		}
		if filter != nil && !filter(ent) {
			continue
		}
		out = append(out, ent.Clone())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })
	return out
}

// OpenPositions is the derived open view: membership follows the status
// field, never a second list.
func (s *Store) OpenPositions() []*core.Position {
	ents := s.List(core.KindPosition, func(e core.Entity) bool {
		pos, ok := e.(*core.Position)
		return ok && pos.IsOpen()
	})
	out := make([]*core.Position, 0, len(ents))
	for _, e := range ents {
		out = append(out, e.(*core.Position))
	}
	return out
}

// Positions returns every position regardless of status.
func (s *Store) Positions() []*core.Position {
	ents := s.List(core.KindPosition, nil)
	out := make([]*core.Position, 0, len(ents))
	for _, e := range ents {
		out = append(out, e.(*core.Position))
	}
	return out
}

// Strategies returns every strategy subscription.
func (s *Store) Strategies() []*core.StrategySubscription {
	ents := s.List(core.KindStrategy, nil)
	out := make([]*core.StrategySubscription, 0, len(ents))
	for _, e := range ents {
		out = append(out, e.(*core.StrategySubscription))
	}
	return out
}

// Remove deletes an entity confirmed gone by its authoritative collaborator.
// Closing a position is a status transition, not a removal; this is only for
// server-side deletions (e.g. a strategy object removed remotely).
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	ent, ok := s.entities[id]
	var kind core.EntityKind
	if ok {
		kind = ent.Kind()
		delete(s.entities, id)
		delete(s.stamps, id)
		delete(s.seqs, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.notify(Notification{Refs: []EntityRef{{Kind: kind, ID: id, Removed: true}}})
	return true
}

// Subscribe registers an observer invoked after every successful write or
// removal. The returned function unsubscribes.
func (s *Store) Subscribe(fn func(Notification)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(n Notification) {
	s.subMu.Lock()
	fns := make([]func(Notification), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

func sortedFields(patch core.Patch) []core.Field {
	fields := make([]core.Field, 0, len(patch))
	for f := range patch {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}
