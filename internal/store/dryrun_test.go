package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trade_core/internal/models"
	"trade_core/internal/store"
	"trade_core/internal/store/memory"
)

func TestDryRunSwallowsWrites(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	d := store.NewDryRun(inner, zap.NewNop())

	sig, err := models.NewSignal(models.SignalParams{
		Instrument: "X", Underlying: "X", Side: models.SideLong, Entry: 10, Stop: 9, Target: 12,
		Strategy: "s", BarStart: time.Unix(1_700_000_000, 0), CreatedAt: time.Unix(1_700_000_300, 0),
	})
	require.NoError(t, err)

	ok, err := d.InsertSignal(ctx, &sig)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Negative(t, sig.ID)
	assert.Empty(t, inner.Signals())

	ok, err = d.UpsertCandle(ctx, models.Candle{Instrument: "X", Granularity: time.Minute, BarStart: time.Unix(0, 0), TickCount: 1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, inner.Candles("X", time.Minute))

	o := models.PaperOrder{SignalID: sig.ID}
	ok, err = d.CreateOrder(ctx, &o, "run")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, inner.Orders())

	_, err = d.TransitionOrder(ctx, models.OrderTransition{From: models.OrderClosed, To: models.OrderFilled})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	ac, err := d.AdmissionControl(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.BreakerRunning, ac.Breaker)
}
