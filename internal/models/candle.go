package models

import "time"

type Tick struct {
	ID         int64
	Instrument string
	Timestamp  time.Time
	Price      float64
	Quantity   float64
}

type Candle struct {
	Instrument  string
	Granularity time.Duration
	BarStart    time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	VWAP        float64
	TickCount   int
}

// Checkpoint is the resume cursor of the aggregator for one granularity.
// MaxTickID is the highest tick id already folded in, which exposes ticks
// stored behind the cursor after it moved on.
type Checkpoint struct {
	Name       string
	LastTickAt time.Time
	LastTickID int64
	MaxTickID  int64
}

// After reports whether t sorts strictly after the cursor.
func (c Checkpoint) After(t Tick) bool {
	if t.Timestamp.After(c.LastTickAt) {
		return true
	}
	return t.Timestamp.Equal(c.LastTickAt) && t.ID > c.LastTickID
}

// Behind reports whether c sorts strictly before o by position, then by
// MaxTickID.
func (c Checkpoint) Behind(o Checkpoint) bool {
	if !c.LastTickAt.Equal(o.LastTickAt) {
		return c.LastTickAt.Before(o.LastTickAt)
	}
	if c.LastTickID != o.LastTickID {
		return c.LastTickID < o.LastTickID
	}
	return c.MaxTickID < o.MaxTickID
}

type InstrumentKind string

const (
	KindFuture InstrumentKind = "FUT"
	KindCall   InstrumentKind = "CE"
	KindPut    InstrumentKind = "PE"
)

type Instrument struct {
	Symbol     string
	Underlying string
	Kind       InstrumentKind
	Expiry     time.Time
	Strike     float64
	LotSize    int
	TickSize   float64
}

// Quote is one observed last-traded price.
type Quote struct {
	Symbol string
	Price  float64
	At     time.Time
}
