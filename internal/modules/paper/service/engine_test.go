package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trade_core/internal/models"
	"trade_core/internal/store"
	"trade_core/internal/store/memory"
)

var t0 = time.Date(2026, 3, 2, 5, 40, 0, 0, time.UTC)

var testCharges = &models.ChargesModel{
	BrokeragePerOrder: 20,
	TaxRate:           0.000625,
	LevyRate:          0.0005,
	StampDutyRate:     0.00003,
	GSTRate:           0.18,
}

type fakeFeed struct {
	fill   map[string]models.Quote
	latest map[string]models.Quote
	err    error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{fill: map[string]models.Quote{}, latest: map[string]models.Quote{}}
}

func (f *fakeFeed) PriceAtOrAfter(_ context.Context, symbol string, at time.Time) (models.Quote, bool, error) {
	if f.err != nil {
		return models.Quote{}, false, f.err
	}
	q, ok := f.fill[symbol]
	if !ok || q.At.Before(at) {
		return models.Quote{}, false, nil
	}
	return q, true, nil
}

func (f *fakeFeed) Latest(_ context.Context, symbol string) (models.Quote, bool, error) {
	if f.err != nil {
		return models.Quote{}, false, f.err
	}
	q, ok := f.latest[symbol]
	return q, ok, nil
}

func admitSignal(t *testing.T, st *memory.Store, side models.Side, entry, stop, target float64) models.Signal {
	t.Helper()
	ctx := context.Background()
	sig, err := models.NewSignal(models.SignalParams{
		Instrument:  "NIFTY26MARFUT",
		Underlying:  "NIFTY",
		Side:        side,
		Entry:       entry,
		Stop:        stop,
		Target:      target,
		Strategy:    "ema_crossover",
		Granularity: 5 * time.Minute,
		BarStart:    t0.Add(-5 * time.Minute),
		TradeDay:    time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		LotSize:     20,
		TickSize:    0.05,
		CreatedAt:   t0,
	})
	require.NoError(t, err)
	ok, err := st.InsertSignal(ctx, &sig)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = st.DecideSignal(ctx, store.SignalDecision{
		SignalID: sig.ID, To: models.SignalAdmitted, Quantity: 20, At: t0, RunID: "gate",
	})
	require.NoError(t, err)
	require.True(t, ok)
	sig.State = models.SignalAdmitted
	sig.Quantity = 20
	return sig
}

func newTestEngine(st *memory.Store, feed PriceFeed, charges *models.ChargesModel, now *time.Time) *Engine {
	e := NewEngine(st, feed, charges, Config{
		FillDelay:     7 * time.Second,
		SlippageGuard: 0.30,
		Batch:         50,
	}, zap.NewNop())
	e.now = func() time.Time { return *now }
	return e
}

func quote(price float64, at time.Time) models.Quote {
	return models.Quote{Symbol: "NIFTY", Price: price, At: at}
}

func TestEngineLifecycle(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	admitSignal(t, st, models.SideLong, 100, 98, 104)
	feed := newFakeFeed()
	now := t0.Add(3 * time.Second)
	e := newTestEngine(st, feed, testCharges, &now)

	sum, err := e.RunOnce(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum["created"])
	orders := st.Orders()
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, models.OrderPendingDelay, o.State)
	assert.Equal(t, t0.Add(7*time.Second), o.FillDueAt)
	assert.Equal(t, "NIFTY", o.PriceSymbol)
	assert.Equal(t, "NIFTY26MARFUT", o.Instrument)
	assert.Equal(t, 20, o.Qty)

	now = t0.Add(8 * time.Second)
	feed.fill["NIFTY"] = quote(100.2, t0.Add(7500*time.Millisecond))
	feed.latest["NIFTY"] = quote(100.2, t0.Add(7500*time.Millisecond))
	sum, err = e.RunOnce(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, 1, sum["filled"])
	o = st.Orders()[0]
	require.Equal(t, models.OrderFilled, o.State)
	require.NotNil(t, o.FillPrice)
	assert.Equal(t, 100.2, *o.FillPrice)
	assert.InDelta(t, 24.84, o.EntryCharges, 1e-9)

	now = t0.Add(time.Minute)
	feed.latest["NIFTY"] = quote(104.5, now)
	sum, err = e.RunOnce(ctx, "run-3")
	require.NoError(t, err)
	assert.Equal(t, 1, sum["hit:TP"])
	assert.Equal(t, 1, sum["closed:TP"])

	o = st.Orders()[0]
	require.Equal(t, models.OrderClosed, o.State)
	require.NotNil(t, o.ExitPrice)
	assert.Equal(t, 104.0, *o.ExitPrice)
	require.NotNil(t, o.GrossPnL)
	assert.InDelta(t, (104-100.2)*20, *o.GrossPnL, 1e-9)
	assert.InDelta(t, 26.13, o.ExitCharges, 1e-9)
	assert.InDelta(t, *o.GrossPnL-o.EntryCharges-o.ExitCharges, *o.NetPnL, 1e-9)
	assert.InDelta(t, 25.03, *o.NetPnL, 1e-9)

	trail, err := st.AuditTrail(ctx, models.AuditOrder, o.ID)
	require.NoError(t, err)
	var states []string
	for _, a := range trail {
		states = append(states, a.To)
	}
	assert.Equal(t, []string{"PENDING_DELAY", "FILLED", "TP_HIT", "CLOSED"}, states)

	sum, err = e.RunOnce(ctx, "run-4")
	require.NoError(t, err)
	assert.Zero(t, sum.Total(), "closed orders are never touched again")
	assert.Len(t, st.Orders(), 1)
}

func TestEngineSlippageGuard(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		side  models.Side
		entry float64
		stop  float64
		tgt   float64
		fill  float64
		want  models.OrderState
	}{
		{"long adverse beyond guard", models.SideLong, 100, 98, 104, 131, models.OrderArchived},
		{"long adverse within guard", models.SideLong, 100, 98, 104, 129, models.OrderFilled},
		{"long favourable move", models.SideLong, 100, 98, 104, 69, models.OrderFilled},
		{"short adverse beyond guard", models.SideShort, 100, 102, 96, 69, models.OrderArchived},
		{"short favourable move", models.SideShort, 100, 102, 96, 131, models.OrderFilled},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := memory.New()
			admitSignal(t, st, tc.side, tc.entry, tc.stop, tc.tgt)
			feed := newFakeFeed()
			feed.fill["NIFTY"] = quote(tc.fill, t0.Add(7*time.Second))
			now := t0.Add(10 * time.Second)

			_, err := newTestEngine(st, feed, nil, &now).RunOnce(ctx, "run")
			require.NoError(t, err)
			o := st.Orders()[0]
			assert.Equal(t, tc.want, o.State)
			if tc.want == models.OrderArchived {
				assert.Contains(t, o.Reason, "slippage")
				assert.Nil(t, o.FillPrice)
			}
		})
	}
}

func TestEngineShortStopLoss(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	admitSignal(t, st, models.SideShort, 100, 102, 96)
	feed := newFakeFeed()
	feed.fill["NIFTY"] = quote(100, t0.Add(7*time.Second))
	feed.latest["NIFTY"] = quote(102.5, t0.Add(20*time.Second))
	now := t0.Add(30 * time.Second)

	sum, err := newTestEngine(st, feed, nil, &now).RunOnce(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, 1, sum["closed:SL"])

	o := st.Orders()[0]
	assert.Equal(t, models.OrderClosed, o.State)
	assert.Equal(t, 102.0, *o.ExitPrice)
	assert.Equal(t, -40.0, *o.GrossPnL)
	assert.Equal(t, -40.0, *o.NetPnL)
}

func TestEngineFeedFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("feed error fills at entry", func(t *testing.T) {
		st := memory.New()
		admitSignal(t, st, models.SideLong, 100, 98, 104)
		feed := newFakeFeed()
		feed.err = errors.New("connection refused")
		now := t0.Add(10 * time.Second)

		_, err := newTestEngine(st, feed, nil, &now).RunOnce(ctx, "run")
		require.NoError(t, err)
		o := st.Orders()[0]
		assert.Equal(t, models.OrderFilled, o.State)
		assert.Equal(t, 100.0, *o.FillPrice)
	})

	t.Run("no price after due time fills at entry", func(t *testing.T) {
		st := memory.New()
		admitSignal(t, st, models.SideLong, 100, 98, 104)
		feed := newFakeFeed()
		feed.fill["NIFTY"] = quote(101, t0.Add(time.Second))
		now := t0.Add(10 * time.Second)

		_, err := newTestEngine(st, feed, nil, &now).RunOnce(ctx, "run")
		require.NoError(t, err)
		assert.Equal(t, 100.0, *st.Orders()[0].FillPrice)
	})
}

func TestEngineBreaker(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	admitSignal(t, st, models.SideLong, 100, 98, 104)
	feed := newFakeFeed()
	feed.fill["NIFTY"] = quote(100, t0.Add(7*time.Second))
	now := t0.Add(10 * time.Second)
	e := newTestEngine(st, feed, nil, &now)

	_, err := e.RunOnce(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, models.OrderFilled, st.Orders()[0].State)

	second, err := models.NewSignal(models.SignalParams{
		Instrument: "BANKNIFTY26MARFUT", Underlying: "BANKNIFTY", Side: models.SideLong,
		Entry: 500, Stop: 490, Target: 520, Strategy: "ema_crossover",
		BarStart: t0, TradeDay: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), CreatedAt: t0,
	})
	require.NoError(t, err)
	_, err = st.InsertSignal(ctx, &second)
	require.NoError(t, err)
	_, err = st.DecideSignal(ctx, store.SignalDecision{SignalID: second.ID, To: models.SignalAdmitted, Quantity: 1, At: t0})
	require.NoError(t, err)

	st.SetControl(models.AdmissionControl{Breaker: models.BreakerPaused})
	feed.latest["NIFTY"] = quote(97, now)
	sum, err := e.RunOnce(ctx, "run-2")
	require.NoError(t, err)
	assert.Zero(t, sum["created"], "no new orders while paused")
	assert.Equal(t, 1, sum["closed:SL"], "open positions are still managed")

	pending, err := st.AdmittedWithoutOrder(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}

func TestCheckExit(t *testing.T) {
	tests := []struct {
		name   string
		side   models.Side
		price  float64
		stop   float64
		target float64
		want   models.ExitReason
		hit    bool
	}{
		{"long target", models.SideLong, 104.5, 98, 104, models.ExitTP, true},
		{"long stop", models.SideLong, 97.9, 98, 104, models.ExitSL, true},
		{"long inside", models.SideLong, 101, 98, 104, "", false},
		{"short target", models.SideShort, 95, 102, 96, models.ExitTP, true},
		{"short stop", models.SideShort, 102, 102, 96, models.ExitSL, true},
		{"both trigger, stop wins", models.SideLong, 104.5, 105, 104, models.ExitSL, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, hit := CheckExit(tc.side, tc.price, tc.stop, tc.target)
			assert.Equal(t, tc.hit, hit)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNewOrderOrientation(t *testing.T) {
	sig := models.Signal{
		ID: 7, Instrument: "X26MARFUT", Underlying: "X", Side: models.SideShort,
		Entry: 100, Stop: 102, Target: 96, LotSize: 25, CreatedAt: t0,
	}
	o := NewOrder(sig, 7*time.Second, t0)
	assert.Equal(t, 102.0, o.Stop)
	assert.Equal(t, 96.0, o.Target)
	assert.Equal(t, 25, o.Qty, "falls back to one lot without a gate quantity")
	assert.Equal(t, "X", o.PriceSymbol)
	assert.Equal(t, t0.Add(7*time.Second), o.FillDueAt)
}
