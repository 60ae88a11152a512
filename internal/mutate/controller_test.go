package mutate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tradesync/internal/core"
	"tradesync/internal/pricing"
	"tradesync/internal/store"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) ModifyPosition(ctx context.Context, id string, stopLoss, takeProfit *float64) (core.Patch, error) {
	args := m.Called(ctx, id, stopLoss, takeProfit)
	patch, _ := args.Get(0).(core.Patch)
	return patch, args.Error(1)
}

func (m *mockGateway) ClosePosition(ctx context.Context, id string) (core.Patch, error) {
	args := m.Called(ctx, id)
	patch, _ := args.Get(0).(core.Patch)
	return patch, args.Error(1)
}

func (m *mockGateway) UpdateStrategy(ctx context.Context, id string, isActive, isPaused *bool) (core.Patch, error) {
	args := m.Called(ctx, id, isActive, isPaused)
	patch, _ := args.Get(0).(core.Patch)
	return patch, args.Error(1)
}

func (m *mockGateway) SetTradeMode(ctx context.Context, id string, mode core.TradeMode) (core.Patch, error) {
	args := m.Called(ctx, id, mode)
	patch, _ := args.Get(0).(core.Patch)
	return patch, args.Error(1)
}

func seedPosition(t *testing.T, st *store.Store, id string, side core.Side, entry float64) {
	t.Helper()
	res := st.Upsert(core.KindPosition, id, core.Patch{
		core.FieldSymbol:     "XAUUSD",
		core.FieldSide:       side,
		core.FieldEntryPrice: entry,
		core.FieldStatus:     core.StatusOpen,
		core.FieldOpenedAt:   time.Now().UTC(),
	}, core.SourceRest, st.NextSequence(id))
	require.True(t, res.Changed())
}

func seedStrategy(t *testing.T, st *store.Store, id string, paused bool) {
	t.Helper()
	res := st.Upsert(core.KindStrategy, id, core.Patch{
		core.FieldStrategyID: "momentum-1",
		core.FieldIsActive:   true,
		core.FieldIsPaused:   paused,
		core.FieldTradeMode:  core.ModePaper,
	}, core.SourceRest, st.NextSequence(id))
	require.True(t, res.Changed())
}

func strategyByID(t *testing.T, st *store.Store, id string) *core.StrategySubscription {
	t.Helper()
	ent, err := st.Get(id)
	require.NoError(t, err)
	sub, ok := ent.(*core.StrategySubscription)
	require.True(t, ok)
	return sub
}

func positionByID(t *testing.T, st *store.Store, id string) *core.Position {
	t.Helper()
	ent, err := st.Get(id)
	require.NoError(t, err)
	pos, ok := ent.(*core.Position)
	require.True(t, ok)
	return pos
}

func TestPauseResumeCommit(t *testing.T) {
	st := store.New()
	seedStrategy(t, st, "s1", false)
	gw := &mockGateway{}
	paused := true
	gw.On("UpdateStrategy", mock.Anything, "s1", (*bool)(nil), &paused).Return(core.Patch(nil), nil).Once()

	c := New(st, gw)
	require.NoError(t, c.PauseResume(context.Background(), "s1"))

	assert.True(t, strategyByID(t, st, "s1").IsPaused)
	stamp, ok := st.Stamp("s1", core.FieldIsPaused)
	require.True(t, ok)
	assert.False(t, stamp.Pending)

	recs := c.Mutations()
	require.Len(t, recs, 1)
	assert.Equal(t, core.MutationCommitted, recs[0].State)
	assert.NotNil(t, recs[0].SettledAt)
	gw.AssertExpectations(t)
}

func TestPauseResumeRollbackOnFailure(t *testing.T) {
	st := store.New()
	seedStrategy(t, st, "s1", false)
	gw := &mockGateway{}
	gw.On("UpdateStrategy", mock.Anything, "s1", mock.Anything, mock.Anything).
		Return(core.Patch(nil), errors.New("boom")).Once()

	c := New(st, gw)
	err := c.PauseResume(context.Background(), "s1")
	require.Error(t, err)

	// The flag reverts to its pre-mutation value and nothing stays pending.
	assert.False(t, strategyByID(t, st, "s1").IsPaused)
	assert.False(t, c.HasPending("s1", core.FieldIsPaused))

	recs := c.Mutations()
	require.Len(t, recs, 1)
	assert.Equal(t, core.MutationRolledBack, recs[0].State)
}

func TestCommitMergesAuthoritativeEcho(t *testing.T) {
	st := store.New()
	seedPosition(t, st, "p1", core.SideLong, 2000)
	gw := &mockGateway{}
	// The server rounds the requested trigger; the echo must win over the
	// optimistic value.
	rounded := 1950.0
	gw.On("ModifyPosition", mock.Anything, "p1", mock.Anything, mock.Anything).
		Return(core.Patch{core.FieldStopLoss: &rounded}, nil).Once()

	c := New(st, gw)
	require.NoError(t, c.SubmitSlTp(context.Background(), "p1", SlTpRequest{
		StopLoss: &SlTpValue{Unit: pricing.UnitPoints, Magnitude: 50.4},
	}))

	pos := positionByID(t, st, "p1")
	require.NotNil(t, pos.StopLoss)
	assert.Equal(t, 1950.0, *pos.StopLoss)
}

func TestSubmitSlTpComputesTriggers(t *testing.T) {
	st := store.New()
	seedPosition(t, st, "p1", core.SideShort, 100)
	gw := &mockGateway{}
	var gotSL, gotTP *float64
	gw.On("ModifyPosition", mock.Anything, "p1", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			gotSL, _ = args.Get(2).(*float64)
			gotTP, _ = args.Get(3).(*float64)
		}).
		Return(core.Patch(nil), nil).Once()

	c := New(st, gw)
	require.NoError(t, c.SubmitSlTp(context.Background(), "p1", SlTpRequest{
		StopLoss:   &SlTpValue{Unit: pricing.UnitPoints, Magnitude: 10},
		TakeProfit: &SlTpValue{Unit: pricing.UnitPercentage, Magnitude: 5},
	}))

	// Short position under the side-aware default: stop above, target below.
	require.NotNil(t, gotSL)
	require.NotNil(t, gotTP)
	assert.InDelta(t, 110.0, *gotSL, 1e-9)
	assert.InDelta(t, 95.0, *gotTP, 1e-9)

	pos := positionByID(t, st, "p1")
	require.NotNil(t, pos.StopLoss)
	require.NotNil(t, pos.TakeProfit)
}

func TestSubmitSlTpValidationHappensBeforeStoreWrite(t *testing.T) {
	st := store.New()
	seedPosition(t, st, "p1", core.SideLong, 2000)
	gw := &mockGateway{}

	c := New(st, gw)
	err := c.SubmitSlTp(context.Background(), "p1", SlTpRequest{
		StopLoss: &SlTpValue{Unit: pricing.UnitPoints, Magnitude: -1},
	})
	require.Error(t, err)
	var verr *core.ValidationError
	assert.ErrorAs(t, err, &verr)

	assert.Nil(t, positionByID(t, st, "p1").StopLoss)
	assert.Empty(t, c.Mutations())
	gw.AssertNotCalled(t, "ModifyPosition", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitSlTpRequiresAtLeastOneValue(t *testing.T) {
	c := New(store.New(), &mockGateway{})
	err := c.SubmitSlTp(context.Background(), "p1", SlTpRequest{})
	var verr *core.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSetTradeModeRejectsUnknownMode(t *testing.T) {
	st := store.New()
	seedStrategy(t, st, "s1", false)
	c := New(st, &mockGateway{})
	err := c.SetTradeMode(context.Background(), "s1", core.TradeMode("demo"))
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, core.ModePaper, strategyByID(t, st, "s1").TradeMode)
}

func TestMutationsOnUnknownEntity(t *testing.T) {
	c := New(store.New(), &mockGateway{})
	assert.ErrorIs(t, c.PauseResume(context.Background(), "ghost"), core.ErrNotFound)
	assert.ErrorIs(t, c.ToggleActive(context.Background(), "ghost"), core.ErrNotFound)
	assert.ErrorIs(t, c.ClosePosition(context.Background(), "ghost"), core.ErrNotFound)
}

func TestSameFieldMutationsSerialize(t *testing.T) {
	st := store.New()
	seedStrategy(t, st, "s1", false)

	firstEntered := make(chan struct{})
	releaseFirst := make(chan struct{})
	var orderMu sync.Mutex
	var order []string

	gw := &mockGateway{}
	gw.On("UpdateStrategy", mock.Anything, "s1", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			orderMu.Lock()
			n := len(order)
			order = append(order, "call")
			orderMu.Unlock()
			if n == 0 {
				close(firstEntered)
				<-releaseFirst
			}
		}).
		Return(core.Patch(nil), nil).Twice()

	c := New(st, gw)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = c.PauseResume(context.Background(), "s1")
	}()
	<-firstEntered

	secondDone := make(chan struct{})
	go func() {
		defer wg.Done()
		_ = c.PauseResume(context.Background(), "s1")
		close(secondDone)
	}()

	// The second mutation must wait behind the in-flight first one.
	select {
	case <-secondDone:
		t.Fatal("second mutation ran before the first settled")
	case <-time.After(50 * time.Millisecond):
	}

	close(releaseFirst)
	wg.Wait()
	gw.AssertExpectations(t)
	assert.False(t, c.HasPending("s1", core.FieldIsPaused))
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	st := store.New()
	seedStrategy(t, st, "s1", false)

	entered := make(chan struct{})
	release := make(chan struct{})
	gw := &mockGateway{}
	gw.On("UpdateStrategy", mock.Anything, "s1", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(core.Patch(nil), nil).Once()

	c := New(st, gw)
	go func() { _ = c.PauseResume(context.Background(), "s1") }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.PauseResume(ctx, "s1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestClosePositionIsNotOptimistic(t *testing.T) {
	st := store.New()
	seedPosition(t, st, "p1", core.SideLong, 2000)
	gw := &mockGateway{}
	closedAt := "2026-08-01T12:00:00Z"
	parsed, err := time.Parse(time.RFC3339, closedAt)
	require.NoError(t, err)
	gw.On("ClosePosition", mock.Anything, "p1").
		Return(core.Patch{
			core.FieldStatus:   core.StatusClosed,
			core.FieldClosedAt: parsed,
			core.FieldProfit:   12.0,
		}, nil).Once()

	c := New(st, gw)
	require.NoError(t, c.ClosePosition(context.Background(), "p1"))

	pos := positionByID(t, st, "p1")
	assert.Equal(t, core.StatusClosed, pos.Status)
	assert.Equal(t, 12.0, pos.Profit)
	// The transition came from the authoritative response, never a local
	// forged status; no mutation record exists for it.
	assert.Empty(t, c.Mutations())
}

func TestClosePositionFailureLeavesPositionOpen(t *testing.T) {
	st := store.New()
	seedPosition(t, st, "p1", core.SideLong, 2000)
	gw := &mockGateway{}
	gw.On("ClosePosition", mock.Anything, "p1").
		Return(core.Patch(nil), errors.New("rejected")).Once()

	c := New(st, gw)
	require.Error(t, c.ClosePosition(context.Background(), "p1"))
	assert.True(t, positionByID(t, st, "p1").IsOpen())
}
