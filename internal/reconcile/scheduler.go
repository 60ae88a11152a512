// Package reconcile periodically pulls full snapshots from the remote
// collaborator and merges them into the store as REST-sourced writes. The
// store's precedence rules make the merge safe: a stale or racing snapshot
// cannot un-do an in-flight optimistic mutation or a newer realtime field.
package reconcile

import (
	"context"
	"sync"
	"time"

	"tradesync/internal/core"
	"tradesync/internal/logger"
	"tradesync/internal/store"
)

// SnapshotEntity is one entity of a full snapshot, already mapped to a patch.
type SnapshotEntity struct {
	Kind     core.EntityKind
	EntityID string
	Patch    core.Patch
}

// Snapshot is the result of one full fetch: open and historical positions
// plus strategy subscriptions.
type Snapshot struct {
	Entities []SnapshotEntity
	FetchedAt time.Time
}

// SnapshotFetcher is implemented by the trading gateway.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context) (*Snapshot, error)
}

// Scheduler drives periodic and on-demand snapshot refreshes.
type Scheduler struct {
	store   *store.Store
	fetcher SnapshotFetcher

	mu       sync.Mutex
	interval time.Duration

	kick chan struct{}
}

// New builds a scheduler; interval must be positive.
func New(st *store.Store, fetcher SnapshotFetcher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		store:    st,
		fetcher:  fetcher,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// SetInterval changes the refresh cadence; takes effect after the current
// wait. Used by config hot reload.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

func (s *Scheduler) currentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// RefreshNow nudges the run loop to refresh as soon as possible without
// waiting for the timer. Non-blocking; coalesces when a nudge is already
// queued.
func (s *Scheduler) RefreshNow() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Refresh performs one synchronous snapshot pass (pull-to-refresh). A failed
// fetch leaves the store untouched and is reported to the caller; there are
// no partial-snapshot merges.
func (s *Scheduler) Refresh(ctx context.Context) error {
	snap, err := s.fetcher.FetchSnapshot(ctx)
	if err != nil {
		logger.Warnf("reconcile: snapshot fetch failed: %v", err)
		return err
	}
	applied := 0
	for _, ent := range snap.Entities {
		if ent.EntityID == "" || len(ent.Patch) == 0 {
			continue
		}
		res := s.store.Upsert(ent.Kind, ent.EntityID, ent.Patch, core.SourceRest, s.store.NextSequence(ent.EntityID))
		if res.Changed() {
			applied++
		}
	}
	// Entities missing from the snapshot are deliberately left alone:
	// closing is only ever driven by an explicit closed status, so a
	// transient empty snapshot cannot mass-close positions.
	logger.Debugf("reconcile: snapshot merged entities=%d changed=%d", len(snap.Entities), applied)
	return nil
}

// Run refreshes on the configured cadence and on RefreshNow nudges until ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Infof("reconcile: scheduler started interval=%s", s.currentInterval())
	timer := time.NewTimer(s.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Infof("reconcile: scheduler stopped")
			return
		case <-s.kick:
		case <-timer.C:
		}

		refreshCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		if err := s.Refresh(refreshCtx); err != nil {
			logger.Warnf("reconcile: periodic refresh failed: %v", err)
		}
		cancel()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.currentInterval())
	}
}
