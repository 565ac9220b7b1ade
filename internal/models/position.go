package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrDuplicateOrder    = errors.New("paper order already exists for signal")
)

type OrderState string

const (
	OrderPendingDelay OrderState = "PENDING_DELAY"
	OrderFilled       OrderState = "FILLED"
	OrderTPHit        OrderState = "TP_HIT"
	OrderSLHit        OrderState = "SL_HIT"
	OrderClosed       OrderState = "CLOSED"
	OrderArchived     OrderState = "ARCHIVED"
)

// rank orders states along the lifecycle; a transition never lowers it.
func (s OrderState) rank() int {
	switch s {
	case OrderPendingDelay:
		return 0
	case OrderFilled:
		return 1
	case OrderTPHit, OrderSLHit:
		return 2
	case OrderClosed, OrderArchived:
		return 3
	default:
		return -1
	}
}

func (s OrderState) Valid() bool { return s.rank() >= 0 }

func (s OrderState) IsTerminal() bool {
	return s == OrderClosed || s == OrderArchived
}

// CanTransition reports whether from -> to is an edge of the order lifecycle.
func CanTransition(from, to OrderState) bool {
	switch from {
	case OrderPendingDelay:
		return to == OrderFilled || to == OrderArchived
	case OrderFilled:
		return to == OrderTPHit || to == OrderSLHit
	case OrderTPHit, OrderSLHit:
		return to == OrderClosed
	case OrderClosed, OrderArchived:
		return false
	default:
		return false
	}
}

type ExitReason string

const (
	ExitTP ExitReason = "TP"
	ExitSL ExitReason = "SL"
)

// HitState maps an exit reason to the order state it produces.
func (r ExitReason) HitState() OrderState {
	if r == ExitTP {
		return OrderTPHit
	}
	return OrderSLHit
}

type PaperOrder struct {
	ID           int64
	SignalID     int64
	Instrument   string
	PriceSymbol  string
	Side         Side
	Qty          int
	Entry        float64
	Stop         float64
	Target       float64
	State        OrderState
	SignalTime   time.Time
	FillDueAt    time.Time
	FillPrice    *float64
	FilledAt     *time.Time
	ExitPrice    *float64
	ExitAt       *time.Time
	EntryCharges float64
	ExitCharges  float64
	GrossPnL     *float64
	NetPnL       *float64
	Reason       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrderTransition is one guarded state change. Only the fields relevant to
// the target state are applied.
type OrderTransition struct {
	OrderID      int64
	From         OrderState
	To           OrderState
	At           time.Time
	Reason       string
	RunID        string
	FillPrice    float64
	EntryCharges float64
	ExitPrice    float64
	ExitCharges  float64
	GrossPnL     float64
	NetPnL       float64
}

func (t OrderTransition) Validate() error {
	if !CanTransition(t.From, t.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.From, t.To)
	}
	return nil
}

// Apply returns o with t applied. The caller checks o.State == t.From.
func (t OrderTransition) Apply(o PaperOrder) PaperOrder {
	o.State = t.To
	o.UpdatedAt = t.At
	switch t.To {
	case OrderFilled:
		price, at := t.FillPrice, t.At
		o.FillPrice = &price
		o.FilledAt = &at
		o.EntryCharges = t.EntryCharges
	case OrderTPHit, OrderSLHit:
		price, at := t.ExitPrice, t.At
		o.ExitPrice = &price
		o.ExitAt = &at
		o.Reason = t.Reason
	case OrderClosed:
		gross, net := t.GrossPnL, t.NetPnL
		o.ExitCharges = t.ExitCharges
		o.GrossPnL = &gross
		o.NetPnL = &net
	case OrderArchived:
		o.Reason = t.Reason
	case OrderPendingDelay:
	}
	return o
}
