// Package memory is a process-local Store with the same guarded-update
// semantics as the postgres store. It backs the service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"trade_core/internal/models"
	"trade_core/internal/store"
)

type dayKey struct {
	underlying string
	strategy   string
	day        time.Time
}

type candleKey struct {
	instrument  string
	granularity time.Duration
	barStart    int64
}

type Store struct {
	mu sync.RWMutex

	ticks       []models.Tick
	nextTickID  int64
	instruments []models.Instrument
	control     models.AdmissionControl

	candles     map[candleKey]models.Candle
	checkpoints map[string]models.Checkpoint

	signals    []models.Signal // index = id-1
	dedup      map[string]int64
	openPerDay map[dayKey]int64
	orders     []models.PaperOrder // index = id-1
	orderBySig map[int64]int64
	audit      []models.AuditEntry
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		control:     models.AdmissionControl{Breaker: models.BreakerRunning},
		candles:     make(map[candleKey]models.Candle),
		checkpoints: make(map[string]models.Checkpoint),
		dedup:       make(map[string]int64),
		openPerDay:  make(map[dayKey]int64),
		orderBySig:  make(map[int64]int64),
	}
}

// AddTicks appends ticks, assigning ids to those without one.
func (s *Store) AddTicks(ticks ...models.Tick) []models.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Tick, 0, len(ticks))
	for _, t := range ticks {
		if t.ID == 0 {
			s.nextTickID++
			t.ID = s.nextTickID
		} else if t.ID > s.nextTickID {
			s.nextTickID = t.ID
		}
		t.Timestamp = t.Timestamp.UTC()
		s.ticks = append(s.ticks, t)
		out = append(out, t)
	}
	sort.SliceStable(s.ticks, func(i, j int) bool { return tickLess(s.ticks[i], s.ticks[j]) })
	return out
}

func (s *Store) AddInstruments(in ...models.Instrument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruments = append(s.instruments, in...)
}

func (s *Store) SetControl(ac models.AdmissionControl) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.control = ac
}

// Signal returns a copy of the signal with id.
func (s *Store) Signal(id int64) (models.Signal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id <= 0 || int(id) > len(s.signals) {
		return models.Signal{}, false
	}
	return s.signals[id-1], true
}

func (s *Store) Signals() []models.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Signal(nil), s.signals...)
}

func (s *Store) Orders() []models.PaperOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.PaperOrder(nil), s.orders...)
}

func (s *Store) Candles(instrument string, g time.Duration) []models.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Candle
	for k, c := range s.candles {
		if k.instrument == instrument && k.granularity == g {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BarStart.Before(out[j].BarStart) })
	return out
}

func tickLess(a, b models.Tick) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}

func (s *Store) TicksAfter(_ context.Context, cp models.Checkpoint, limit int) ([]models.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Tick
	for _, t := range s.ticks {
		if !cp.After(t) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) TicksInRange(_ context.Context, instrument string, from, to time.Time) ([]models.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Tick
	for _, t := range s.ticks {
		if t.Instrument == instrument && !t.Timestamp.Before(from) && t.Timestamp.Before(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) TicksBehind(_ context.Context, cp models.Checkpoint, from time.Time, limit int) ([]models.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Tick
	for _, t := range s.ticks {
		if t.Timestamp.Before(from) || cp.After(t) || t.ID <= cp.MaxTickID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpsertCandle(_ context.Context, c models.Candle) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.BarStart = c.BarStart.UTC()
	k := candleKey{c.Instrument, c.Granularity, c.BarStart.Unix()}
	if prev, ok := s.candles[k]; ok && prev == c {
		return false, nil
	}
	s.candles[k] = c
	return true, nil
}

func (s *Store) LatestCandles(_ context.Context, instrument string, g time.Duration, n int) ([]models.Candle, error) {
	s.mu.RLock()
	var all []models.Candle
	for k, c := range s.candles {
		if k.instrument == instrument && k.granularity == g {
			all = append(all, c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].BarStart.Before(all[j].BarStart) })
	if n >= 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (s *Store) Checkpoint(_ context.Context, name string) (models.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[name]
	if !ok {
		return models.Checkpoint{Name: name}, nil
	}
	return cp, nil
}

func (s *Store) SaveCheckpoint(_ context.Context, cp models.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.checkpoints[cp.Name]
	if ok && !prev.Behind(cp) {
		return nil
	}
	s.checkpoints[cp.Name] = cp
	return nil
}

func (s *Store) Derivatives(_ context.Context, underlying string, asOf time.Time) ([]models.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	var out []models.Instrument
	for _, in := range s.instruments {
		if strings.EqualFold(in.Underlying, underlying) && !in.Expiry.Before(day) {
			out = append(out, in)
		}
	}
	return out, nil
}

func (s *Store) AdmissionControl(_ context.Context) (models.AdmissionControl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ac := s.control
	ac.ReadAt = time.Now().UTC()
	return ac, nil
}

func (s *Store) InsertSignal(_ context.Context, sig *models.Signal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.dedup[sig.DedupKey]; dup {
		return false, nil
	}
	dk := dayKey{sig.Underlying, sig.Strategy, sig.TradeDay}
	if sig.State != models.SignalRejected {
		if _, open := s.openPerDay[dk]; open {
			return false, nil
		}
	}

	sig.ID = int64(len(s.signals) + 1)
	if sig.State == "" {
		sig.State = models.SignalPending
	}
	s.signals = append(s.signals, *sig)
	s.dedup[sig.DedupKey] = sig.ID
	if sig.State != models.SignalRejected {
		s.openPerDay[dk] = sig.ID
	}
	return true, nil
}

func (s *Store) HasOpenSignal(_ context.Context, underlying, strategy string, day time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.openPerDay[dayKey{underlying, strategy, day}]
	return ok, nil
}

func (s *Store) CountSignalsSince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sig := range s.signals {
		if !sig.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) SignalsByState(_ context.Context, state models.SignalState, limit int) ([]models.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Signal
	for _, sig := range s.signals {
		if sig.State != state {
			continue
		}
		out = append(out, sig)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) DecideSignal(_ context.Context, d store.SignalDecision) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.SignalID <= 0 || int(d.SignalID) > len(s.signals) {
		return false, nil
	}
	sig := &s.signals[d.SignalID-1]
	if sig.State != models.SignalPending {
		return false, nil
	}
	at := d.At
	sig.State = d.To
	sig.Reason = d.Reason
	sig.Quantity = d.Quantity
	sig.Metrics = append([]byte(nil), d.Metrics...)
	sig.DecidedAt = &at
	if d.To == models.SignalRejected {
		dk := dayKey{sig.Underlying, sig.Strategy, sig.TradeDay}
		if s.openPerDay[dk] == sig.ID {
			delete(s.openPerDay, dk)
		}
	}
	s.appendAudit(models.AuditEntry{
		Entity: models.AuditSignal, EntityID: sig.ID,
		From: string(models.SignalPending), To: string(d.To),
		Reason: d.Reason, RunID: d.RunID, At: d.At,
	})
	return true, nil
}

func (s *Store) AdmittedWithoutOrder(_ context.Context, limit int) ([]models.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Signal
	for _, sig := range s.signals {
		if sig.State != models.SignalAdmitted {
			continue
		}
		if _, has := s.orderBySig[sig.ID]; has {
			continue
		}
		out = append(out, sig)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateOrder(_ context.Context, o *models.PaperOrder, runID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.orderBySig[o.SignalID]; dup {
		return false, nil
	}
	o.ID = int64(len(s.orders) + 1)
	s.orders = append(s.orders, *o)
	s.orderBySig[o.SignalID] = o.ID
	s.appendAudit(models.AuditEntry{
		Entity: models.AuditOrder, EntityID: o.ID,
		From: "", To: string(o.State),
		Reason: "created", RunID: runID, At: o.CreatedAt,
	})
	return true, nil
}

func (s *Store) OrdersByState(_ context.Context, state models.OrderState, limit int) ([]models.PaperOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PaperOrder
	for _, o := range s.orders {
		if o.State != state {
			continue
		}
		out = append(out, o)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) DueOrders(_ context.Context, now time.Time, limit int) ([]models.PaperOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PaperOrder
	for _, o := range s.orders {
		if o.State != models.OrderPendingDelay || o.FillDueAt.After(now) {
			continue
		}
		out = append(out, o)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) TransitionOrder(_ context.Context, t models.OrderTransition) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.OrderID <= 0 || int(t.OrderID) > len(s.orders) {
		return false, nil
	}
	o := &s.orders[t.OrderID-1]
	if o.State != t.From {
		return false, nil
	}
	*o = t.Apply(*o)
	s.appendAudit(models.AuditEntry{
		Entity: models.AuditOrder, EntityID: o.ID,
		From: string(t.From), To: string(t.To),
		Reason: t.Reason, RunID: t.RunID, At: t.At,
	})
	return true, nil
}

func (s *Store) AuditTrail(_ context.Context, entity models.AuditEntity, id int64) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AuditEntry
	for _, a := range s.audit {
		if a.Entity == entity && a.EntityID == id {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) appendAudit(a models.AuditEntry) {
	a.ID = int64(len(s.audit) + 1)
	s.audit = append(s.audit, a)
}
