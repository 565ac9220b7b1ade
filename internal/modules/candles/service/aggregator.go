package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"trade_core/internal/helper"
	"trade_core/internal/models"
	"trade_core/internal/runner"
	"trade_core/internal/store"
)

const Name = "aggregator"

type candleStore interface {
	store.TickReader
	store.CandleStore
}

type Config struct {
	Granularities []time.Duration
	Location      *time.Location
	Anchor        time.Duration
	Batch         int
}

// Aggregator folds ticks into OHLCV bars. Every touched bar is rebuilt from
// its full stored tick set, so re-runs converge on the same rows.
type Aggregator struct {
	store candleStore
	cfg   Config
	log   *zap.Logger
}

func NewAggregator(st candleStore, cfg Config, log *zap.Logger) (*Aggregator, error) {
	if len(cfg.Granularities) == 0 {
		return nil, fmt.Errorf("aggregator needs at least one granularity")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 5000
	}
	return &Aggregator{store: st, cfg: cfg, log: log.Named(Name)}, nil
}

func (a *Aggregator) Name() string { return Name }

func CheckpointName(g time.Duration) string {
	return "candles:" + helper.GranularityLabel(g)
}

// Build folds ticks into bars at granularity g. Ticks are ordered by
// (timestamp, id) first; bars come back ordered by instrument then start.
func Build(ticks []models.Tick, g time.Duration, loc *time.Location, anchor time.Duration) []models.Candle {
	sorted := append([]models.Tick(nil), ticks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].ID < sorted[j].ID
	})

	type key struct {
		instrument string
		start      int64
	}
	bars := make(map[key]*models.Candle)
	notional := make(map[key]float64)
	var order []key

	for _, t := range sorted {
		start := helper.BucketStart(t.Timestamp, g, loc, anchor)
		k := key{t.Instrument, start.Unix()}
		c, ok := bars[k]
		if !ok {
			c = &models.Candle{
				Instrument:  t.Instrument,
				Granularity: g,
				BarStart:    start,
				Open:        t.Price,
				High:        t.Price,
				Low:         t.Price,
			}
			bars[k] = c
			order = append(order, k)
		}
		if t.Price > c.High {
			c.High = t.Price
		}
		if t.Price < c.Low {
			c.Low = t.Price
		}
		c.Close = t.Price
		c.Volume += t.Quantity
		c.TickCount++
		notional[k] += t.Price * t.Quantity
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].instrument != order[j].instrument {
			return order[i].instrument < order[j].instrument
		}
		return order[i].start < order[j].start
	})
	out := make([]models.Candle, 0, len(order))
	for _, k := range order {
		c := bars[k]
		c.VWAP = c.Close
		if c.Volume > 0 {
			c.VWAP = notional[k] / c.Volume
		}
		out = append(out, *c)
	}
	return out
}

// Ingest rebuilds every bar touched by ticks at granularity g from the
// stored ticks of that bar merged with the given ones, and upserts it.
func (a *Aggregator) Ingest(ctx context.Context, g time.Duration, ticks []models.Tick, sum runner.Summary) error {
	type bucket struct {
		instrument string
		start      time.Time
	}
	touched := make(map[bucket][]models.Tick)
	var order []bucket
	for _, t := range ticks {
		b := bucket{t.Instrument, helper.BucketStart(t.Timestamp, g, a.cfg.Location, a.cfg.Anchor)}
		if _, ok := touched[b]; !ok {
			order = append(order, b)
		}
		touched[b] = append(touched[b], t)
	}

	for _, b := range order {
		stored, err := a.store.TicksInRange(ctx, b.instrument, b.start, b.start.Add(g))
		if err != nil {
			return fmt.Errorf("load ticks of %s@%s: %w", b.instrument, b.start.Format(time.RFC3339), err)
		}
		merged := mergeTicks(stored, touched[b])
		for _, c := range Build(merged, g, a.cfg.Location, a.cfg.Anchor) {
			changed, err := a.store.UpsertCandle(ctx, c)
			if err != nil {
				return fmt.Errorf("upsert %s@%s: %w", c.Instrument, c.BarStart.Format(time.RFC3339), err)
			}
			outcome := "unchanged"
			if changed {
				outcome = "upserted"
			}
			sum.Add(outcome)
			a.log.Debug("item",
				zap.String("instrument", c.Instrument),
				zap.String("granularity", helper.GranularityLabel(g)),
				zap.Time("bar_start", c.BarStart),
				zap.Int("ticks", c.TickCount),
				zap.String("outcome", outcome),
			)
		}
	}
	return nil
}

// mergeTicks unions stored and extra by tick id; ticks without an id are
// always kept.
func mergeTicks(stored, extra []models.Tick) []models.Tick {
	seen := make(map[int64]bool, len(stored))
	out := make([]models.Tick, 0, len(stored)+len(extra))
	for _, t := range stored {
		seen[t.ID] = true
		out = append(out, t)
	}
	for _, t := range extra {
		if t.ID != 0 && seen[t.ID] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// RunOnce advances every granularity's cursor through the new ticks.
func (a *Aggregator) RunOnce(ctx context.Context, runID string) (runner.Summary, error) {
	sum := runner.Summary{}
	for _, g := range a.cfg.Granularities {
		n, err := a.advance(ctx, g, sum)
		if err != nil {
			return sum, err
		}
		a.log.Info("granularity done",
			zap.String("run_id", runID),
			zap.String("granularity", helper.GranularityLabel(g)),
			zap.Int("ticks", n),
		)
	}
	return sum, nil
}

func (a *Aggregator) advance(ctx context.Context, g time.Duration, sum runner.Summary) (int, error) {
	name := CheckpointName(g)
	cp, err := a.store.Checkpoint(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint %s: %w", name, err)
	}

	total := 0
	if !cp.LastTickAt.IsZero() {
		n, next, err := a.rescan(ctx, g, cp, sum)
		if err != nil {
			return n, err
		}
		total, cp = n, next
	}
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		ticks, err := a.store.TicksAfter(ctx, cp, a.cfg.Batch)
		if err != nil {
			return total, fmt.Errorf("read ticks after %s: %w", name, err)
		}
		if len(ticks) == 0 {
			return total, nil
		}
		if err := a.Ingest(ctx, g, ticks, sum); err != nil {
			return total, err
		}

		last := ticks[len(ticks)-1]
		maxID := cp.MaxTickID
		for _, t := range ticks {
			maxID = max(maxID, t.ID)
		}
		cp = models.Checkpoint{Name: name, LastTickAt: last.Timestamp, LastTickID: last.ID, MaxTickID: maxID}
		if err := a.store.SaveCheckpoint(ctx, cp); err != nil {
			return total, fmt.Errorf("save checkpoint %s: %w", name, err)
		}
		total += len(ticks)
		if len(ticks) < a.cfg.Batch {
			return total, nil
		}
	}
}

// rescan folds in ticks stored behind the cursor after it passed them, as
// long as they fall in the bar holding the cursor. Older stragglers are not
// revisited.
func (a *Aggregator) rescan(ctx context.Context, g time.Duration, cp models.Checkpoint, sum runner.Summary) (int, models.Checkpoint, error) {
	from := helper.BucketStart(cp.LastTickAt, g, a.cfg.Location, a.cfg.Anchor)
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, cp, err
		}
		late, err := a.store.TicksBehind(ctx, cp, from, a.cfg.Batch)
		if err != nil {
			return total, cp, fmt.Errorf("read late ticks of %s: %w", cp.Name, err)
		}
		if len(late) == 0 {
			return total, cp, nil
		}
		if err := a.Ingest(ctx, g, late, sum); err != nil {
			return total, cp, err
		}

		cp.MaxTickID = late[len(late)-1].ID
		if err := a.store.SaveCheckpoint(ctx, cp); err != nil {
			return total, cp, fmt.Errorf("save checkpoint %s: %w", cp.Name, err)
		}
		total += len(late)
		a.log.Info("late ticks folded in",
			zap.String("granularity", helper.GranularityLabel(g)),
			zap.Int("ticks", len(late)),
		)
		if len(late) < a.cfg.Batch {
			return total, cp, nil
		}
	}
}

// Latest returns up to n most recent bars, oldest first. Fewer than n means
// not enough history.
func (a *Aggregator) Latest(ctx context.Context, instrument string, g time.Duration, n int) ([]models.Candle, error) {
	return a.store.LatestCandles(ctx, instrument, g, n)
}
