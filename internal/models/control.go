package models

import (
	"fmt"
	"strings"
	"time"
)

type BreakerState string

const (
	BreakerRunning BreakerState = "RUNNING"
	BreakerPaused  BreakerState = "PAUSED"
	BreakerPanic   BreakerState = "PANIC"
)

func ParseBreaker(raw string) (BreakerState, error) {
	switch b := BreakerState(strings.ToUpper(strings.TrimSpace(raw))); b {
	case BreakerRunning, BreakerPaused, BreakerPanic:
		return b, nil
	default:
		return "", fmt.Errorf("unknown breaker state %q", raw)
	}
}

// AdmissionControl is the per-pass snapshot of the global switch and cap.
type AdmissionControl struct {
	Breaker  BreakerState
	DailyCap int // 0 means unlimited
	ReadAt   time.Time
}

func (a AdmissionControl) Running() bool { return a.Breaker == BreakerRunning }
func (a AdmissionControl) Panic() bool   { return a.Breaker == BreakerPanic }

// Remaining is how many signals may still be emitted today.
func (a AdmissionControl) Remaining(emittedToday int) int {
	if a.DailyCap <= 0 {
		return int(^uint(0) >> 1)
	}
	if left := a.DailyCap - emittedToday; left > 0 {
		return left
	}
	return 0
}

type AuditEntity string

const (
	AuditSignal AuditEntity = "signal"
	AuditOrder  AuditEntity = "paper_order"
)

// AuditEntry is one append-only line of the transition log.
type AuditEntry struct {
	ID       int64
	Entity   AuditEntity
	EntityID int64
	From     string
	To       string
	Reason   string
	RunID    string
	At       time.Time
}
