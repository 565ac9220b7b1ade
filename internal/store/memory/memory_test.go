package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_core/internal/models"
	"trade_core/internal/store"
)

var day = time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)

func newSignal(t *testing.T, bar time.Time) models.Signal {
	t.Helper()
	s, err := models.NewSignal(models.SignalParams{
		Instrument: "NIFTYFUT", Underlying: "NIFTY", Side: models.SideLong,
		Entry: 100, Stop: 98, Target: 104, Strategy: "ema_9_21",
		Granularity: 5 * time.Minute, BarStart: bar, TradeDay: day,
		LotSize: 25, CreatedAt: bar.Add(5 * time.Minute),
	})
	require.NoError(t, err)
	return s
}

func TestInsertSignalDedup(t *testing.T) {
	ctx := context.Background()
	s := New()
	bar := day.Add(4 * time.Hour)

	first := newSignal(t, bar)
	ok, err := s.InsertSignal(ctx, &first)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), first.ID)

	same := newSignal(t, bar)
	ok, err = s.InsertSignal(ctx, &same)
	require.NoError(t, err)
	assert.False(t, ok, "same dedup key")

	later := newSignal(t, bar.Add(time.Hour))
	ok, err = s.InsertSignal(ctx, &later)
	require.NoError(t, err)
	assert.False(t, ok, "open signal already exists for the day")

	ok, err = s.DecideSignal(ctx, store.SignalDecision{SignalID: first.ID, To: models.SignalRejected, Reason: "rr<min", At: bar})
	require.NoError(t, err)
	require.True(t, ok)

	open, err := s.HasOpenSignal(ctx, "NIFTY", "ema_9_21", day)
	require.NoError(t, err)
	assert.False(t, open)

	ok, err = s.InsertSignal(ctx, &later)
	require.NoError(t, err)
	assert.True(t, ok, "rejection frees the day slot")
}

func TestDecideSignalOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	sig := newSignal(t, day.Add(4*time.Hour))
	_, err := s.InsertSignal(ctx, &sig)
	require.NoError(t, err)

	ok, err := s.DecideSignal(ctx, store.SignalDecision{SignalID: sig.ID, To: models.SignalAdmitted, Quantity: 25, At: day})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DecideSignal(ctx, store.SignalDecision{SignalID: sig.ID, To: models.SignalRejected, Reason: "risk>cap", At: day})
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := s.Signal(sig.ID)
	assert.Equal(t, models.SignalAdmitted, got.State)
	assert.Equal(t, 25, got.Quantity)

	trail, err := s.AuditTrail(ctx, models.AuditSignal, sig.ID)
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

func TestOneOrderPerSignalUnderContention(t *testing.T) {
	ctx := context.Background()
	s := New()

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := models.PaperOrder{SignalID: 7, State: models.OrderPendingDelay, Qty: 1}
			ok, err := s.CreateOrder(ctx, &o, "run")
			assert.NoError(t, err)
			if ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), created.Load())
	assert.Len(t, s.Orders(), 1)
}

func TestTransitionOrderIsGuarded(t *testing.T) {
	ctx := context.Background()
	s := New()
	o := models.PaperOrder{SignalID: 1, State: models.OrderPendingDelay, Qty: 1, FillDueAt: day}
	_, err := s.CreateOrder(ctx, &o, "run")
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := models.OrderFilled
			if i%2 == 1 {
				to = models.OrderArchived
			}
			ok, err := s.TransitionOrder(ctx, models.OrderTransition{OrderID: o.ID, From: models.OrderPendingDelay, To: to, At: day, FillPrice: 100})
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	_, err = s.TransitionOrder(ctx, models.OrderTransition{OrderID: o.ID, From: models.OrderClosed, To: models.OrderFilled})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	trail, err := s.AuditTrail(ctx, models.AuditOrder, o.ID)
	require.NoError(t, err)
	assert.Len(t, trail, 2, "created + one transition")
}

func TestDueOrdersAndAdmittedWithoutOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	sig := newSignal(t, day.Add(4*time.Hour))
	_, _ = s.InsertSignal(ctx, &sig)
	_, _ = s.DecideSignal(ctx, store.SignalDecision{SignalID: sig.ID, To: models.SignalAdmitted, At: day})

	pending, err := s.AdmittedWithoutOrder(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	o := models.PaperOrder{SignalID: sig.ID, State: models.OrderPendingDelay, FillDueAt: day.Add(time.Hour)}
	_, _ = s.CreateOrder(ctx, &o, "run")

	pending, err = s.AdmittedWithoutOrder(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	due, err := s.DueOrders(ctx, day.Add(30*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
	due, err = s.DueOrders(ctx, day.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestCheckpointNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SaveCheckpoint(ctx, models.Checkpoint{Name: "c", LastTickAt: day, LastTickID: 5}))
	require.NoError(t, s.SaveCheckpoint(ctx, models.Checkpoint{Name: "c", LastTickAt: day, LastTickID: 3}))

	cp, err := s.Checkpoint(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(5), cp.LastTickID)

	empty, err := s.Checkpoint(ctx, "other")
	require.NoError(t, err)
	assert.True(t, empty.LastTickAt.IsZero())
}

func TestTicksAfterOrdersByTimeThenID(t *testing.T) {
	ctx := context.Background()
	s := New()
	ts := day.Add(4 * time.Hour)
	s.AddTicks(
		models.Tick{Instrument: "A", Timestamp: ts.Add(time.Second), Price: 2, Quantity: 1},
		models.Tick{Instrument: "A", Timestamp: ts, Price: 1, Quantity: 1},
	)
	got, err := s.TicksAfter(ctx, models.Checkpoint{LastTickAt: ts, LastTickID: 2}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2.0, got[0].Price)
}

func TestCheckpointAdvancesOnMaxTickID(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SaveCheckpoint(ctx, models.Checkpoint{Name: "c", LastTickAt: day, LastTickID: 5, MaxTickID: 5}))
	require.NoError(t, s.SaveCheckpoint(ctx, models.Checkpoint{Name: "c", LastTickAt: day, LastTickID: 5, MaxTickID: 9}))
	require.NoError(t, s.SaveCheckpoint(ctx, models.Checkpoint{Name: "c", LastTickAt: day, LastTickID: 5, MaxTickID: 7}))

	cp, err := s.Checkpoint(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(9), cp.MaxTickID)
}

func TestTicksBehind(t *testing.T) {
	ctx := context.Background()
	s := New()
	ts := day.Add(4 * time.Hour)
	s.AddTicks(
		models.Tick{Instrument: "A", Timestamp: ts, Price: 1, Quantity: 1},
		models.Tick{Instrument: "A", Timestamp: ts.Add(2 * time.Second), Price: 2, Quantity: 1},
	)
	cp := models.Checkpoint{LastTickAt: ts.Add(2 * time.Second), LastTickID: 2, MaxTickID: 2}
	s.AddTicks(
		models.Tick{Instrument: "A", Timestamp: ts.Add(time.Second), Price: 3, Quantity: 1},
		models.Tick{Instrument: "A", Timestamp: ts.Add(-time.Minute), Price: 4, Quantity: 1},
		models.Tick{Instrument: "A", Timestamp: ts.Add(time.Minute), Price: 5, Quantity: 1},
	)

	got, err := s.TicksBehind(ctx, cp, ts, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3.0, got[0].Price)
}
