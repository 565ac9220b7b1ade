// Package store defines the durable state shared by the pipeline stages.
// Every mutation is a single guarded row change; methods report a lost
// race or a duplicate as (false, nil).
package store

import (
	"context"
	"errors"
	"time"

	"trade_core/internal/models"
)

var ErrNotFound = errors.New("not found")

type TickReader interface {
	// TicksAfter returns up to limit ticks strictly after cp, ordered by (timestamp, id).
	TicksAfter(ctx context.Context, cp models.Checkpoint, limit int) ([]models.Tick, error)
	// TicksInRange returns every tick of instrument in [from, to), ordered by (timestamp, id).
	TicksInRange(ctx context.Context, instrument string, from, to time.Time) ([]models.Tick, error)
	// TicksBehind returns up to limit ticks at or before cp, stamped at or
	// after from, with id above cp.MaxTickID, ordered by id.
	TicksBehind(ctx context.Context, cp models.Checkpoint, from time.Time, limit int) ([]models.Tick, error)
}

type CandleStore interface {
	// UpsertCandle writes c and reports whether the stored row changed.
	UpsertCandle(ctx context.Context, c models.Candle) (bool, error)
	// LatestCandles returns at most n bars, ascending by bar start.
	LatestCandles(ctx context.Context, instrument string, granularity time.Duration, n int) ([]models.Candle, error)
	// Checkpoint returns the named cursor, or a zero cursor if none exists.
	Checkpoint(ctx context.Context, name string) (models.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error
}

type InstrumentStore interface {
	// Derivatives lists contracts on underlying expiring on or after asOf's date.
	Derivatives(ctx context.Context, underlying string, asOf time.Time) ([]models.Instrument, error)
}

type ControlStore interface {
	AdmissionControl(ctx context.Context) (models.AdmissionControl, error)
}

// SignalDecision is the gate's single write to a pending signal.
type SignalDecision struct {
	SignalID int64
	To       models.SignalState
	Reason   string
	Quantity int
	Metrics  []byte
	At       time.Time
	RunID    string
}

type SignalStore interface {
	// InsertSignal sets s.ID and returns true, or returns false when the
	// dedup key or the open-signal-per-day rule already holds a row.
	InsertSignal(ctx context.Context, s *models.Signal) (bool, error)
	HasOpenSignal(ctx context.Context, underlying, strategy string, day time.Time) (bool, error)
	CountSignalsSince(ctx context.Context, since time.Time) (int, error)
	// SignalsByState returns signals oldest first.
	SignalsByState(ctx context.Context, state models.SignalState, limit int) ([]models.Signal, error)
	// DecideSignal moves a PENDING signal to ADMITTED or REJECTED and audits it.
	DecideSignal(ctx context.Context, d SignalDecision) (bool, error)
	// AdmittedWithoutOrder returns admitted signals that have no paper order yet.
	AdmittedWithoutOrder(ctx context.Context, limit int) ([]models.Signal, error)
}

type OrderStore interface {
	// CreateOrder sets o.ID and returns true, or false if the signal already has an order.
	CreateOrder(ctx context.Context, o *models.PaperOrder, runID string) (bool, error)
	// OrdersByState returns orders oldest first.
	OrdersByState(ctx context.Context, state models.OrderState, limit int) ([]models.PaperOrder, error)
	// DueOrders returns PENDING_DELAY orders with fill_due_at <= now.
	DueOrders(ctx context.Context, now time.Time, limit int) ([]models.PaperOrder, error)
	// TransitionOrder applies t only if the order is still in t.From, and audits it.
	TransitionOrder(ctx context.Context, t models.OrderTransition) (bool, error)
	AuditTrail(ctx context.Context, entity models.AuditEntity, entityID int64) ([]models.AuditEntry, error)
}

type Store interface {
	TickReader
	CandleStore
	InstrumentStore
	ControlStore
	SignalStore
	OrderStore
}
