package models

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidSignal = errors.New("invalid signal")

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// ParseSide accepts LONG/SHORT and the BUY/SELL spelling used by crossovers.
func ParseSide(raw string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LONG", "BUY":
		return SideLong, nil
	case "SHORT", "SELL":
		return SideShort, nil
	default:
		return "", fmt.Errorf("%w: unknown side %q", ErrInvalidSignal, raw)
	}
}

// Sign is +1 for LONG and -1 for SHORT.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Action is the crossover direction label.
func (s Side) Action() string {
	if s == SideShort {
		return "SELL"
	}
	return "BUY"
}

type SignalState string

const (
	SignalPending  SignalState = "PENDING"
	SignalAdmitted SignalState = "ADMITTED"
	SignalRejected SignalState = "REJECTED"
)

type Signal struct {
	ID          int64
	Instrument  string // tradable symbol, or the underlying on fallback
	Underlying  string
	Side        Side
	Entry       float64
	Stop        float64
	Target      float64
	RR          float64
	Strategy    string
	Granularity time.Duration
	BarStart    time.Time // start of the crossover bar
	TradeDay    time.Time // calendar day in the trading timezone, midnight UTC
	LotSize     int
	TickSize    float64
	Fallback    bool
	DedupKey    string
	State       SignalState
	Reason      string
	Quantity    int
	Metrics     []byte
	CreatedAt   time.Time
	DecidedAt   *time.Time
}

type SignalParams struct {
	Instrument  string
	Underlying  string
	Side        Side
	Entry       float64
	Stop        float64
	Target      float64
	Strategy    string
	Granularity time.Duration
	BarStart    time.Time
	TradeDay    time.Time
	LotSize     int
	TickSize    float64
	Fallback    bool
	CreatedAt   time.Time
}

// NewSignal validates p and returns a PENDING signal with RR and dedup key filled in.
func NewSignal(p SignalParams) (Signal, error) {
	if strings.TrimSpace(p.Instrument) == "" || strings.TrimSpace(p.Underlying) == "" {
		return Signal{}, fmt.Errorf("%w: instrument and underlying are required", ErrInvalidSignal)
	}
	if strings.TrimSpace(p.Strategy) == "" {
		return Signal{}, fmt.Errorf("%w: strategy is required", ErrInvalidSignal)
	}
	if p.Side != SideLong && p.Side != SideShort {
		return Signal{}, fmt.Errorf("%w: side %q", ErrInvalidSignal, p.Side)
	}
	if err := ValidateLevels(p.Side, p.Entry, p.Stop, p.Target); err != nil {
		return Signal{}, err
	}
	if p.CreatedAt.IsZero() || p.BarStart.IsZero() {
		return Signal{}, fmt.Errorf("%w: timestamps are required", ErrInvalidSignal)
	}

	s := Signal{
		Instrument:  p.Instrument,
		Underlying:  p.Underlying,
		Side:        p.Side,
		Entry:       p.Entry,
		Stop:        p.Stop,
		Target:      p.Target,
		RR:          NominalRR(p.Entry, p.Stop, p.Target),
		Strategy:    p.Strategy,
		Granularity: p.Granularity,
		BarStart:    p.BarStart.UTC(),
		TradeDay:    p.TradeDay,
		LotSize:     p.LotSize,
		TickSize:    p.TickSize,
		Fallback:    p.Fallback,
		State:       SignalPending,
		CreatedAt:   p.CreatedAt.UTC(),
	}
	s.DedupKey = DedupKey(s)
	return s, nil
}

// ValidateLevels checks that stop and target sit on the correct sides of entry.
func ValidateLevels(side Side, entry, stop, target float64) error {
	for _, v := range []float64{entry, stop, target} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-positive price level", ErrInvalidSignal)
		}
	}
	switch side {
	case SideLong:
		if !(stop < entry && entry < target) {
			return fmt.Errorf("%w: LONG needs stop < entry < target", ErrInvalidSignal)
		}
	case SideShort:
		if !(target < entry && entry < stop) {
			return fmt.Errorf("%w: SHORT needs target < entry < stop", ErrInvalidSignal)
		}
	default:
		return fmt.Errorf("%w: side %q", ErrInvalidSignal, side)
	}
	return nil
}

// NominalRR is reward distance over risk distance, 0 when risk is zero.
func NominalRR(entry, stop, target float64) float64 {
	risk := math.Abs(entry - stop)
	if risk <= 0 {
		return 0
	}
	return math.Abs(target-entry) / risk
}

// DedupKey hashes instrument, side, levels, strategy and the bar bucket.
func DedupKey(s Signal) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	raw := strings.Join([]string{
		s.Instrument,
		string(s.Side),
		f(s.Entry),
		f(s.Stop),
		f(s.Target),
		s.Strategy,
		strconv.FormatInt(s.BarStart.UTC().Unix(), 10),
	}, "|")
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}
