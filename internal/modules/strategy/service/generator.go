package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"trade_core/internal/helper"
	"trade_core/internal/models"
	"trade_core/internal/runner"
	"trade_core/internal/store"
)

const Name = "signals"

type generatorStore interface {
	store.ControlStore
	store.SignalStore
}

// BarSource serves the most recent bars of an instrument, oldest first.
type BarSource interface {
	Latest(ctx context.Context, instrument string, g time.Duration, n int) ([]models.Candle, error)
}

type GeneratorConfig struct {
	Strategy    string
	Underlyings []string
	Granularity time.Duration
	FastLen     int
	SlowLen     int
	RRMultiple  float64
	Epsilon     float64
	DailyCap    int
	Location    *time.Location
}

// Generator emits at most one crossover signal per underlying per pass.
type Generator struct {
	store    generatorStore
	bars     BarSource
	resolver *Resolver
	cfg      GeneratorConfig
	log      *zap.Logger
	now      func() time.Time
}

func NewGenerator(st generatorStore, bars BarSource, resolver *Resolver, cfg GeneratorConfig, log *zap.Logger) *Generator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Generator{
		store:    st,
		bars:     bars,
		resolver: resolver,
		cfg:      cfg,
		log:      log.Named(Name),
		now:      time.Now,
	}
}

func (g *Generator) Name() string { return Name }

func (g *Generator) RunOnce(ctx context.Context, runID string) (runner.Summary, error) {
	sum := runner.Summary{}

	ac, err := g.store.AdmissionControl(ctx)
	if err != nil {
		return sum, fmt.Errorf("read admission control: %w", err)
	}
	if !ac.Running() {
		g.log.Info("breaker not running, no signals emitted",
			zap.String("run_id", runID),
			zap.String("breaker", string(ac.Breaker)),
		)
		return sum, nil
	}
	if g.cfg.DailyCap > 0 && (ac.DailyCap <= 0 || g.cfg.DailyCap < ac.DailyCap) {
		ac.DailyCap = g.cfg.DailyCap
	}

	now := g.now().UTC()
	emitted, err := g.store.CountSignalsSince(ctx, helper.DayStart(now, g.cfg.Location))
	if err != nil {
		return sum, fmt.Errorf("count signals today: %w", err)
	}
	remaining := ac.Remaining(emitted)

	for _, underlying := range g.cfg.Underlyings {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if remaining <= 0 {
			g.item(runID, underlying, "skipped:daily_cap", sum)
			continue
		}
		outcome, err := g.evaluate(ctx, underlying, now)
		if err != nil {
			return sum, err
		}
		if outcome == "emitted" {
			remaining--
		}
		g.item(runID, underlying, outcome, sum)
	}
	return sum, nil
}

func (g *Generator) item(runID, underlying, outcome string, sum runner.Summary) {
	sum.Add(outcome)
	g.log.Info("item",
		zap.String("run_id", runID),
		zap.String("underlying", underlying),
		zap.String("outcome", outcome),
	)
}

// evaluate returns the outcome for one underlying. Only store failures are
// returned as errors.
func (g *Generator) evaluate(ctx context.Context, underlying string, now time.Time) (string, error) {
	need := max(g.cfg.FastLen, g.cfg.SlowLen) + 2
	bars, err := g.bars.Latest(ctx, underlying, g.cfg.Granularity, need)
	if err != nil {
		return "", fmt.Errorf("latest candles of %s: %w", underlying, err)
	}
	if len(bars) < need {
		return "skipped:insufficient_bars", nil
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	side, ok := Crossover(closes, g.cfg.FastLen, g.cfg.SlowLen, g.cfg.Epsilon)
	if !ok {
		return "no_signal", nil
	}

	last, prev := bars[len(bars)-1], bars[len(bars)-2]
	entry := last.Close
	stop := prev.Low
	if side == models.SideShort {
		stop = prev.High
	}

	day := helper.TradeDay(last.BarStart, g.cfg.Location)
	open, err := g.store.HasOpenSignal(ctx, underlying, g.cfg.Strategy, day)
	if err != nil {
		return "", fmt.Errorf("open signal of %s: %w", underlying, err)
	}
	if open {
		return "duplicate", nil
	}

	inst, found, err := g.resolver.Resolve(ctx, underlying, side, entry, now)
	if err != nil {
		return "", err
	}
	symbol, fallback, tick := underlying, true, 0.0
	if found {
		symbol, fallback, tick = inst.Symbol, false, inst.TickSize
	}
	stop, target := levels(side, entry, stop, g.cfg.RRMultiple, tick)

	sig, err := models.NewSignal(models.SignalParams{
		Instrument:  symbol,
		Underlying:  underlying,
		Side:        side,
		Entry:       entry,
		Stop:        stop,
		Target:      target,
		Strategy:    g.cfg.Strategy,
		Granularity: g.cfg.Granularity,
		BarStart:    last.BarStart,
		TradeDay:    day,
		LotSize:     inst.LotSize,
		TickSize:    inst.TickSize,
		Fallback:    fallback,
		CreatedAt:   now,
	})
	if err != nil {
		g.log.Debug("crossover with unusable levels",
			zap.String("underlying", underlying),
			zap.Float64("entry", entry),
			zap.Float64("stop", stop),
			zap.Error(err),
		)
		return "skipped:invalid_levels", nil
	}

	inserted, err := g.store.InsertSignal(ctx, &sig)
	if err != nil {
		return "", fmt.Errorf("insert signal for %s: %w", underlying, err)
	}
	if !inserted {
		return "duplicate", nil
	}
	g.log.Info("signal emitted",
		zap.Int64("signal_id", sig.ID),
		zap.String("instrument", sig.Instrument),
		zap.String("action", side.Action()),
		zap.Float64("entry", sig.Entry),
		zap.Float64("stop", sig.Stop),
		zap.Float64("target", sig.Target),
		zap.Float64("rr", sig.RR),
		zap.Bool("fallback", sig.Fallback),
	)
	return "emitted", nil
}

// levels puts the stop on the tick grid away from entry and sets the target
// at rr times the rounded stop distance, rounded away from entry. A zero
// tick leaves prices as they are.
func levels(side models.Side, entry, stop, rr, tick float64) (float64, float64) {
	if side == models.SideShort {
		stop = helper.RoundUpToTick(stop, tick)
	} else {
		stop = helper.RoundDownToTick(stop, tick)
	}
	target := entry + side.Sign()*rr*math.Abs(entry-stop)
	if side == models.SideShort {
		return stop, helper.RoundDownToTick(target, tick)
	}
	return stop, helper.RoundUpToTick(target, tick)
}
