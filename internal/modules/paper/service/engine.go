package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"trade_core/internal/models"
	risk "trade_core/internal/modules/risk/service"
	"trade_core/internal/runner"
	"trade_core/internal/store"
)

const Name = "paper"

// PriceFeed is the read-only live price accessor.
type PriceFeed interface {
	// PriceAtOrAfter returns the most recent quote stamped at or after at.
	PriceAtOrAfter(ctx context.Context, symbol string, at time.Time) (models.Quote, bool, error)
	Latest(ctx context.Context, symbol string) (models.Quote, bool, error)
}

type engineStore interface {
	store.ControlStore
	store.SignalStore
	store.OrderStore
}

type Config struct {
	FillDelay     time.Duration
	SlippageGuard float64
	Batch         int
}

// Engine walks paper orders through
// PENDING_DELAY -> FILLED -> TP_HIT|SL_HIT -> CLOSED, or PENDING_DELAY -> ARCHIVED.
type Engine struct {
	store   engineStore
	feed    PriceFeed
	charges *models.ChargesModel
	cfg     Config
	log     *zap.Logger
	now     func() time.Time
}

func NewEngine(st engineStore, feed PriceFeed, charges *models.ChargesModel, cfg Config, log *zap.Logger) *Engine {
	if cfg.Batch <= 0 {
		cfg.Batch = 200
	}
	return &Engine{
		store:   st,
		feed:    feed,
		charges: charges,
		cfg:     cfg,
		log:     log.Named(Name),
		now:     time.Now,
	}
}

func (e *Engine) Name() string { return Name }

// RunOnce creates and fills orders only while the breaker is RUNNING; open
// positions are monitored and closed regardless.
func (e *Engine) RunOnce(ctx context.Context, runID string) (runner.Summary, error) {
	sum := runner.Summary{}
	ac, err := e.store.AdmissionControl(ctx)
	if err != nil {
		return sum, fmt.Errorf("read admission control: %w", err)
	}

	steps := []func(context.Context, string, runner.Summary) error{e.monitor, e.close}
	if ac.Running() {
		steps = append([]func(context.Context, string, runner.Summary) error{e.create, e.fill}, steps...)
	} else {
		e.log.Info("breaker not running, only managing open positions",
			zap.String("run_id", runID),
			zap.String("breaker", string(ac.Breaker)),
		)
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if err := step(ctx, runID, sum); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// NewOrder builds the PENDING_DELAY order of an admitted signal.
func NewOrder(sig models.Signal, delay time.Duration, now time.Time) models.PaperOrder {
	qty := sig.Quantity
	if qty <= 0 {
		qty = max(sig.LotSize, 1)
	}
	sign := sig.Side.Sign()
	return models.PaperOrder{
		SignalID:    sig.ID,
		Instrument:  sig.Instrument,
		PriceSymbol: sig.Underlying,
		Side:        sig.Side,
		Qty:         qty,
		Entry:       sig.Entry,
		Stop:        sig.Entry - sign*math.Abs(sig.Entry-sig.Stop),
		Target:      sig.Entry + sign*math.Abs(sig.Target-sig.Entry),
		State:       models.OrderPendingDelay,
		SignalTime:  sig.CreatedAt,
		FillDueAt:   sig.CreatedAt.Add(delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (e *Engine) create(ctx context.Context, runID string, sum runner.Summary) error {
	admitted, err := e.store.AdmittedWithoutOrder(ctx, e.cfg.Batch)
	if err != nil {
		return fmt.Errorf("list admitted signals: %w", err)
	}
	for _, sig := range admitted {
		o := NewOrder(sig, e.cfg.FillDelay, e.now().UTC())
		created, err := e.store.CreateOrder(ctx, &o, runID)
		if err != nil {
			return fmt.Errorf("create order for signal %d: %w", sig.ID, err)
		}
		outcome := "created"
		if !created {
			outcome = "duplicate"
		}
		e.item(runID, o, outcome, sum)
	}
	return nil
}

// AdverseSlippage is the fractional move of price against side from entry;
// favourable moves are negative.
func AdverseSlippage(side models.Side, entry, price float64) float64 {
	if entry <= 0 {
		return 0
	}
	return side.Sign() * (price - entry) / entry
}

func (e *Engine) fill(ctx context.Context, runID string, sum runner.Summary) error {
	now := e.now().UTC()
	due, err := e.store.DueOrders(ctx, now, e.cfg.Batch)
	if err != nil {
		return fmt.Errorf("list due orders: %w", err)
	}
	for _, o := range due {
		price := o.Entry
		q, ok, err := e.feed.PriceAtOrAfter(ctx, o.PriceSymbol, o.FillDueAt)
		switch {
		case err != nil:
			e.log.Warn("price feed unavailable, filling at entry",
				zap.Int64("order_id", o.ID), zap.String("symbol", o.PriceSymbol), zap.Error(err))
		case ok:
			price = q.Price
		}

		t := models.OrderTransition{OrderID: o.ID, From: o.State, At: now, RunID: runID}
		outcome := "filled"
		if slip := AdverseSlippage(o.Side, o.Entry, price); slip > e.cfg.SlippageGuard {
			t.To = models.OrderArchived
			t.Reason = fmt.Sprintf("slippage %.4f > %.4f at %.2f", slip, e.cfg.SlippageGuard, price)
			outcome = "archived:slippage"
		} else {
			t.To = models.OrderFilled
			t.Reason = "filled"
			t.FillPrice = price
			t.EntryCharges = toFloat(risk.EntryCharges(e.charges, o.Side, price, o.Qty))
		}
		if err := e.transition(ctx, t, o, outcome, sum); err != nil {
			return err
		}
	}
	return nil
}

// CheckExit reports which level price has reached. When both would
// trigger, SL wins.
func CheckExit(side models.Side, price, stop, target float64) (models.ExitReason, bool) {
	if side == models.SideShort {
		switch {
		case price >= stop:
			return models.ExitSL, true
		case price <= target:
			return models.ExitTP, true
		}
		return "", false
	}
	switch {
	case price <= stop:
		return models.ExitSL, true
	case price >= target:
		return models.ExitTP, true
	}
	return "", false
}

func (e *Engine) monitor(ctx context.Context, runID string, sum runner.Summary) error {
	open, err := e.store.OrdersByState(ctx, models.OrderFilled, e.cfg.Batch)
	if err != nil {
		return fmt.Errorf("list filled orders: %w", err)
	}
	for _, o := range open {
		q, ok, err := e.feed.Latest(ctx, o.PriceSymbol)
		if err != nil {
			e.log.Warn("price feed unavailable, position left open",
				zap.Int64("order_id", o.ID), zap.String("symbol", o.PriceSymbol), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		reason, hit := CheckExit(o.Side, q.Price, o.Stop, o.Target)
		if !hit {
			continue
		}
		exit := o.Target
		if reason == models.ExitSL {
			exit = o.Stop
		}
		t := models.OrderTransition{
			OrderID:   o.ID,
			From:      o.State,
			To:        reason.HitState(),
			At:        e.now().UTC(),
			Reason:    string(reason),
			RunID:     runID,
			ExitPrice: exit,
		}
		if err := e.transition(ctx, t, o, "hit:"+string(reason), sum); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) close(ctx context.Context, runID string, sum runner.Summary) error {
	for _, state := range []models.OrderState{models.OrderTPHit, models.OrderSLHit} {
		hits, err := e.store.OrdersByState(ctx, state, e.cfg.Batch)
		if err != nil {
			return fmt.Errorf("list %s orders: %w", state, err)
		}
		for _, o := range hits {
			if o.FillPrice == nil || o.ExitPrice == nil {
				return fmt.Errorf("order %d in %s without fill or exit price", o.ID, o.State)
			}
			gross := risk.GrossPnL(o.Side, *o.FillPrice, *o.ExitPrice, o.Qty)
			exitCharges := risk.ExitCharges(e.charges, o.Side, *o.ExitPrice, o.Qty)
			net := gross.Sub(exitCharges).Sub(decimalOf(o.EntryCharges))

			t := models.OrderTransition{
				OrderID:     o.ID,
				From:        o.State,
				To:          models.OrderClosed,
				At:          e.now().UTC(),
				Reason:      o.Reason,
				RunID:       runID,
				ExitCharges: toFloat(exitCharges),
				GrossPnL:    toFloat(gross),
				NetPnL:      toFloat(net),
			}
			outcome := "closed:" + o.Reason
			if err := e.transition(ctx, t, o, outcome, sum); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) transition(ctx context.Context, t models.OrderTransition, o models.PaperOrder, outcome string, sum runner.Summary) error {
	ok, err := e.store.TransitionOrder(ctx, t)
	if err != nil {
		return fmt.Errorf("order %d %s -> %s: %w", o.ID, t.From, t.To, err)
	}
	if ok {
		o = t.Apply(o)
	} else {
		outcome = "stale"
	}
	e.item(t.RunID, o, outcome, sum)
	return nil
}

func (e *Engine) item(runID string, o models.PaperOrder, outcome string, sum runner.Summary) {
	sum.Add(outcome)
	fields := []zap.Field{
		zap.String("run_id", runID),
		zap.Int64("order_id", o.ID),
		zap.Int64("signal_id", o.SignalID),
		zap.String("instrument", o.Instrument),
		zap.String("state", string(o.State)),
		zap.String("outcome", outcome),
	}
	if o.NetPnL != nil {
		fields = append(fields, zap.Float64("gross_pnl", *o.GrossPnL), zap.Float64("net_pnl", *o.NetPnL))
	}
	e.log.Info("item", fields...)
}
