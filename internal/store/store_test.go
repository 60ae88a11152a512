package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesync/internal/core"
)

func openPosition(t *testing.T, s *Store, id string, seq uint64) {
	t.Helper()
	res := s.Upsert(core.KindPosition, id, core.Patch{
		core.FieldSymbol:       "XAUUSD",
		core.FieldSide:         core.SideLong,
		core.FieldVolume:       1.0,
		core.FieldEntryPrice:   2000.0,
		core.FieldCurrentPrice: 2000.0,
		core.FieldStatus:       core.StatusOpen,
		core.FieldOpenedAt:     time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}, core.SourceRest, seq)
	require.True(t, res.Changed())
}

func getPosition(t *testing.T, s *Store, id string) *core.Position {
	t.Helper()
	ent, err := s.Get(id)
	require.NoError(t, err)
	pos, ok := ent.(*core.Position)
	require.True(t, ok)
	return pos
}

func TestUpsertCreatesAndGetClones(t *testing.T) {
	s := New()
	openPosition(t, s, "p1", 1)

	pos := getPosition(t, s, "p1")
	assert.Equal(t, "XAUUSD", pos.Symbol)
	assert.True(t, pos.IsOpen())

	// Mutating the returned copy must not leak into the store.
	pos.Symbol = "EURUSD"
	assert.Equal(t, "XAUUSD", getPosition(t, s, "p1").Symbol)

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRealtimeReplayIsIdempotent(t *testing.T) {
	s := New()
	openPosition(t, s, "p1", 1)

	patch := core.Patch{core.FieldCurrentPrice: 2010.0}
	first := s.Upsert(core.KindPosition, "p1", patch, core.SourceRealtime, 5)
	assert.Len(t, first.Applied, 1)

	replay := s.Upsert(core.KindPosition, "p1", patch, core.SourceRealtime, 5)
	assert.Empty(t, replay.Applied)
	assert.Len(t, replay.Rejected, 1)

	stale := s.Upsert(core.KindPosition, "p1", core.Patch{core.FieldCurrentPrice: 1990.0}, core.SourceRealtime, 4)
	assert.Empty(t, stale.Applied)
	assert.Equal(t, 2010.0, getPosition(t, s, "p1").CurrentPrice)
}

func TestRestNeverOverridesRealtimeField(t *testing.T) {
	s := New()
	openPosition(t, s, "p1", 1)
	s.Upsert(core.KindPosition, "p1", core.Patch{core.FieldCurrentPrice: 2010.0}, core.SourceRealtime, 2)

	// A snapshot merge stamps with a fresh (higher) sequence, but the field
	// was last written by realtime, so the stale snapshot value must lose.
	res := s.Upsert(core.KindPosition, "p1", core.Patch{
		core.FieldCurrentPrice: 2000.0,
		core.FieldVolume:       2.0,
	}, core.SourceRest, s.NextSequence("p1"))

	assert.Contains(t, res.Rejected, core.FieldCurrentPrice)
	assert.Contains(t, res.Applied, core.FieldVolume)

	pos := getPosition(t, s, "p1")
	assert.Equal(t, 2010.0, pos.CurrentPrice)
	assert.Equal(t, 2.0, pos.Volume)
}

func TestPendingOptimisticBlocksOtherSources(t *testing.T) {
	s := New()
	openPosition(t, s, "p1", 1)

	sl := 1950.0
	s.Upsert(core.KindPosition, "p1", core.Patch{core.FieldStopLoss: &sl}, core.SourceOptimistic, s.NextSequence("p1"))

	// Neither a racing snapshot nor a realtime event may surface over the
	// user's in-flight value.
	restSL := 1900.0
	res := s.Upsert(core.KindPosition, "p1", core.Patch{core.FieldStopLoss: &restSL}, core.SourceRest, s.NextSequence("p1"))
	assert.Contains(t, res.Rejected, core.FieldStopLoss)

	res = s.Upsert(core.KindPosition, "p1", core.Patch{core.FieldStopLoss: &restSL}, core.SourceRealtime, 99)
	assert.Contains(t, res.Rejected, core.FieldStopLoss)

	require.NotNil(t, getPosition(t, s, "p1").StopLoss)
	assert.Equal(t, 1950.0, *getPosition(t, s, "p1").StopLoss)

	// A newer optimistic write (the queued next mutation) does take over.
	newer := 1960.0
	res = s.Upsert(core.KindPosition, "p1", core.Patch{core.FieldStopLoss: &newer}, core.SourceOptimistic, s.NextSequence("p1"))
	assert.Contains(t, res.Applied, core.FieldStopLoss)
}

func TestResolveOptimisticRestoresPrecedence(t *testing.T) {
	s := New()
	openPosition(t, s, "p1", 1)

	sl := 1950.0
	s.Upsert(core.KindPosition, "p1", core.Patch{core.FieldStopLoss: &sl}, core.SourceOptimistic, s.NextSequence("p1"))
	s.ResolveOptimistic("p1", core.FieldStopLoss)

	stamp, ok := s.Stamp("p1", core.FieldStopLoss)
	require.True(t, ok)
	assert.False(t, stamp.Pending)

	// Settled optimistic behaves like REST: a newer REST write lands.
	authoritative := 1949.5
	res := s.Upsert(core.KindPosition, "p1", core.Patch{core.FieldStopLoss: &authoritative}, core.SourceRest, s.NextSequence("p1"))
	assert.Contains(t, res.Applied, core.FieldStopLoss)
	assert.Equal(t, 1949.5, *getPosition(t, s, "p1").StopLoss)
}

func TestClosedPositionIsImmutable(t *testing.T) {
	s := New()
	openPosition(t, s, "p1", 1)

	closedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	res := s.Upsert(core.KindPosition, "p1", core.Patch{
		core.FieldStatus:       core.StatusClosed,
		core.FieldClosedAt:     closedAt,
		core.FieldCurrentPrice: 2020.0,
		core.FieldProfit:       20.0,
	}, core.SourceRealtime, 10)
	require.True(t, res.Changed())

	// Any later write is dropped wholesale, replayed closing events included.
	res = s.Upsert(core.KindPosition, "p1", core.Patch{core.FieldCurrentPrice: 2030.0}, core.SourceRealtime, 11)
	assert.Empty(t, res.Applied)

	res = s.Upsert(core.KindPosition, "p1", core.Patch{core.FieldStatus: core.StatusOpen}, core.SourceRest, s.NextSequence("p1"))
	assert.Empty(t, res.Applied)

	pos := getPosition(t, s, "p1")
	assert.Equal(t, core.StatusClosed, pos.Status)
	assert.Equal(t, 2020.0, pos.CurrentPrice)
	require.NotNil(t, pos.ClosedAt)
	assert.Equal(t, closedAt, *pos.ClosedAt)
}

func TestOpenPositionsIsDerivedFromStatus(t *testing.T) {
	s := New()
	openPosition(t, s, "p1", 1)
	openPosition(t, s, "p2", 1)

	assert.Len(t, s.OpenPositions(), 2)

	s.Upsert(core.KindPosition, "p1", core.Patch{
		core.FieldStatus:   core.StatusClosed,
		core.FieldClosedAt: time.Now().UTC(),
	}, core.SourceRealtime, 5)

	open := s.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, "p2", open[0].ID)
	assert.Len(t, s.Positions(), 2)
}

func TestUpsertBatchEmitsSingleNotification(t *testing.T) {
	s := New()
	s.Upsert(core.KindStrategy, "s1", core.Patch{core.FieldIsPaused: false}, core.SourceRest, 1)
	s.Upsert(core.KindStrategy, "s2", core.Patch{core.FieldIsPaused: false}, core.SourceRest, 1)

	var (
		mu    sync.Mutex
		calls []Notification
	)
	unsub := s.Subscribe(func(n Notification) {
		mu.Lock()
		calls = append(calls, n)
		mu.Unlock()
	})
	defer unsub()

	s.UpsertBatch([]BatchItem{
		{Kind: core.KindStrategy, EntityID: "s1", Patch: core.Patch{core.FieldIsPaused: true}, Source: core.SourceOptimistic, Sequence: s.NextSequence("s1")},
		{Kind: core.KindStrategy, EntityID: "s2", Patch: core.Patch{core.FieldIsPaused: true}, Source: core.SourceOptimistic, Sequence: s.NextSequence("s2")},
	})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0].Refs, 2)
}

func TestRemoveNotifiesWithRemovedRef(t *testing.T) {
	s := New()
	s.Upsert(core.KindStrategy, "s1", core.Patch{core.FieldIsActive: true}, core.SourceRest, 1)

	var got Notification
	unsub := s.Subscribe(func(n Notification) { got = n })
	defer unsub()

	require.True(t, s.Remove("s1"))
	require.Len(t, got.Refs, 1)
	assert.True(t, got.Refs[0].Removed)
	assert.False(t, s.Remove("s1"))

	_, err := s.Get("s1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestNextSequenceTracksExternalWrites(t *testing.T) {
	s := New()
	s.Upsert(core.KindPosition, "p1", core.Patch{core.FieldSymbol: "XAUUSD"}, core.SourceRealtime, 40)
	// The clock never hands out a sequence at or below one already observed.
	assert.Equal(t, uint64(41), s.NextSequence("p1"))
}
