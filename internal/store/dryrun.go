package store

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"trade_core/internal/models"
)

// DryRun passes reads through to the wrapped store and turns every write
// into a logged no-op that reports success. Synthetic ids are negative.
type DryRun struct {
	Store
	log    *zap.Logger
	nextID atomic.Int64
}

func NewDryRun(inner Store, log *zap.Logger) *DryRun {
	return &DryRun{Store: inner, log: log.Named("dry_run")}
}

func (d *DryRun) fakeID() int64 { return -d.nextID.Add(1) }

func (d *DryRun) UpsertCandle(_ context.Context, c models.Candle) (bool, error) {
	d.log.Debug("skip candle upsert", zap.String("instrument", c.Instrument), zap.Time("bar_start", c.BarStart))
	return true, nil
}

func (d *DryRun) SaveCheckpoint(_ context.Context, cp models.Checkpoint) error {
	d.log.Debug("skip checkpoint save", zap.String("name", cp.Name), zap.Int64("last_tick_id", cp.LastTickID))
	return nil
}

func (d *DryRun) InsertSignal(_ context.Context, s *models.Signal) (bool, error) {
	s.ID = d.fakeID()
	d.log.Info("skip signal insert", zap.String("instrument", s.Instrument), zap.String("side", string(s.Side)), zap.String("dedup_key", s.DedupKey))
	return true, nil
}

func (d *DryRun) DecideSignal(_ context.Context, dec SignalDecision) (bool, error) {
	d.log.Info("skip signal decision", zap.Int64("signal_id", dec.SignalID), zap.String("to", string(dec.To)), zap.String("reason", dec.Reason))
	return true, nil
}

func (d *DryRun) CreateOrder(_ context.Context, o *models.PaperOrder, _ string) (bool, error) {
	o.ID = d.fakeID()
	d.log.Info("skip order create", zap.Int64("signal_id", o.SignalID), zap.String("instrument", o.Instrument))
	return true, nil
}

func (d *DryRun) TransitionOrder(_ context.Context, t models.OrderTransition) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}
	d.log.Info("skip order transition", zap.Int64("order_id", t.OrderID), zap.String("from", string(t.From)), zap.String("to", string(t.To)))
	return true, nil
}
