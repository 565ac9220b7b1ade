package pg

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_core/internal/models"
	"trade_core/internal/store"
	"trade_core/pkg/db"
)

// Runs against a scratch database named by TC_TEST_DSN; skipped otherwise.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TC_TEST_DSN")
	if dsn == "" {
		t.Skip("TC_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{DSN: dsn})
	require.NoError(t, err)
	txm := db.NewPgTxManager(pool)
	t.Cleanup(txm.Close)

	_, err = txm.Migrate(ctx)
	require.NoError(t, err)
	require.NoError(t, txm.CheckSchema(ctx))

	_, err = txm.Conn().Exec(ctx, `TRUNCATE audit_log, paper_orders, signals, candles, checkpoints, ticks, instruments RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return New(txm)
}

func TestIntegrationSignalAndOrderLifecycle(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	sig, err := models.NewSignal(models.SignalParams{
		Instrument: "NIFTYFUT", Underlying: "NIFTY", Side: models.SideLong,
		Entry: 100, Stop: 98, Target: 104, Strategy: "ema_9_21",
		Granularity: 5 * time.Minute, BarStart: now.Add(-5 * time.Minute),
		TradeDay: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		LotSize: 25, CreatedAt: now,
	})
	require.NoError(t, err)

	ok, err := s.InsertSignal(ctx, &sig)
	require.NoError(t, err)
	require.True(t, ok)

	dup := sig
	ok, err = s.InsertSignal(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.DecideSignal(ctx, store.SignalDecision{SignalID: sig.ID, To: models.SignalAdmitted, Quantity: 25, Metrics: []byte(`{"path":"charges"}`), At: now})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.DecideSignal(ctx, store.SignalDecision{SignalID: sig.ID, To: models.SignalRejected, At: now})
	require.NoError(t, err)
	assert.False(t, ok)

	order := models.PaperOrder{
		SignalID: sig.ID, Instrument: "NIFTYFUT", PriceSymbol: "NIFTY", Side: models.SideLong, Qty: 25,
		Entry: 100, Stop: 98, Target: 104, State: models.OrderPendingDelay,
		SignalTime: now, FillDueAt: now.Add(7 * time.Second), CreatedAt: now,
	}
	ok, err = s.CreateOrder(ctx, &order, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	again := order
	ok, err = s.CreateOrder(ctx, &again, "run-2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.TransitionOrder(ctx, models.OrderTransition{OrderID: order.ID, From: models.OrderPendingDelay, To: models.OrderFilled, At: now, FillPrice: 100.2})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.TransitionOrder(ctx, models.OrderTransition{OrderID: order.ID, From: models.OrderPendingDelay, To: models.OrderArchived, At: now})
	require.NoError(t, err)
	assert.False(t, ok)

	trail, err := s.AuditTrail(ctx, models.AuditOrder, order.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, string(models.OrderFilled), trail[1].To)
}
