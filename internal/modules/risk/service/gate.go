package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade_core/internal/models"
	"trade_core/internal/runner"
	"trade_core/internal/store"
)

const Name = "gate"

// Evaluate decides admission of sig under p. It is pure; the same inputs
// always give the same decision.
func Evaluate(sig models.Signal, p models.RiskProfile) models.Decision {
	m := models.RiskMetrics{
		Profile:        p.Name,
		ProfileVersion: p.Version,
		RRMin:          p.RRMin,
		NominalRR:      sig.RR,
	}
	if err := models.ValidateLevels(sig.Side, sig.Entry, sig.Stop, sig.Target); err != nil {
		m.Path = models.PathNominal
		return reject(models.ReasonInvalidLevels, m)
	}
	m.NominalRR = models.NominalRR(sig.Entry, sig.Stop, sig.Target)
	if sig.Fallback {
		m.Path = models.PathNominal
		return reject(models.ReasonNoDerivative, m)
	}
	if sig.LotSize > 0 && p.Charges != nil {
		return evaluateCharges(sig, p, m)
	}
	return evaluateNominal(sig, p, m)
}

func evaluateCharges(sig models.Signal, p models.RiskProfile, m models.RiskMetrics) models.Decision {
	qty := sig.LotSize * p.Lots
	q := decimal.NewFromInt(int64(qty))
	entry := decimal.NewFromFloat(sig.Entry)

	grossRisk := entry.Sub(decimal.NewFromFloat(sig.Stop)).Abs().Mul(q)
	grossReward := decimal.NewFromFloat(sig.Target).Sub(entry).Abs().Mul(q)
	atStop := RoundTrip(p.Charges, sig.Side, sig.Entry, sig.Stop, qty)
	atTarget := RoundTrip(p.Charges, sig.Side, sig.Entry, sig.Target, qty)

	effRisk := grossRisk.Add(atStop)
	effReward := grossReward.Sub(atTarget)
	effRR := decimal.Zero
	if effRisk.IsPositive() {
		effRR = effReward.Div(effRisk)
	}
	m.Path = models.PathCharges
	m.Quantity = qty
	m.GrossRisk = toFloat(grossRisk)
	m.GrossReward = toFloat(grossReward)
	m.ChargesAtStop = toFloat(atStop)
	m.ChargesAtTarget = toFloat(atTarget)
	m.EffectiveRisk = toFloat(effRisk)
	m.EffectiveReward = toFloat(effReward)
	m.EffectiveRR = toFloat(effRR)
	m.Cap = p.SLCapPerTrade

	// Compare the persisted values.
	switch {
	case m.EffectiveRisk > m.Cap:
		return reject(models.ReasonRiskOverCap, m)
	case m.EffectiveRR < p.RRMin:
		return reject(models.ReasonRRUnderMin, m)
	}
	return models.Decision{Admit: true, Metrics: m}
}

// evaluateNominal checks raw price distances when lot size or charges are
// unknown. An unknown lot size counts as one unit.
func evaluateNominal(sig models.Signal, p models.RiskProfile, m models.RiskMetrics) models.Decision {
	lot := sig.LotSize
	if lot <= 0 {
		lot = 1
	}
	qty := lot * p.Lots
	dist := math.Abs(sig.Entry - sig.Stop)
	reward := math.Abs(sig.Target - sig.Entry)

	m.Path = models.PathNominal
	m.Quantity = qty
	m.GrossRisk = round2(dist * float64(qty))
	m.GrossReward = round2(reward * float64(qty))
	m.EffectiveRisk = m.GrossRisk
	m.EffectiveReward = m.GrossReward
	m.EffectiveRR = m.NominalRR
	m.SLPerLot = dist * float64(lot)
	m.Cap = p.SLCapLot()

	switch {
	case m.SLPerLot > m.Cap:
		return reject(models.ReasonRiskOverCap, m)
	case m.NominalRR < p.RRMin:
		return reject(models.ReasonRRUnderMin, m)
	}
	return models.Decision{Admit: true, Metrics: m}
}

func reject(reason string, m models.RiskMetrics) models.Decision {
	return models.Decision{Reason: reason, Metrics: m}
}

type gateStore interface {
	store.ControlStore
	store.SignalStore
}

// Gate decides every PENDING signal exactly once.
type Gate struct {
	store   gateStore
	profile models.RiskProfile
	batch   int
	log     *zap.Logger
	now     func() time.Time
}

func NewGate(st gateStore, profile models.RiskProfile, batch int, log *zap.Logger) *Gate {
	return &Gate{
		store:   st,
		profile: profile,
		batch:   batch,
		log:     log.Named(Name),
		now:     time.Now,
	}
}

func (g *Gate) Name() string { return Name }

func (g *Gate) RunOnce(ctx context.Context, runID string) (runner.Summary, error) {
	sum := runner.Summary{}

	ac, err := g.store.AdmissionControl(ctx)
	if err != nil {
		return sum, fmt.Errorf("read admission control: %w", err)
	}
	if ac.Panic() {
		g.log.Warn("breaker is PANIC, gate idle", zap.String("run_id", runID))
		return sum, nil
	}

	pending, err := g.store.SignalsByState(ctx, models.SignalPending, g.batch)
	if err != nil {
		return sum, fmt.Errorf("list pending signals: %w", err)
	}

	for _, sig := range pending {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		d := Evaluate(sig, g.profile)
		raw, err := sonic.Marshal(d.Metrics)
		if err != nil {
			return sum, fmt.Errorf("encode metrics of signal %d: %w", sig.ID, err)
		}

		to := models.SignalRejected
		if d.Admit {
			to = models.SignalAdmitted
		}
		ok, err := g.store.DecideSignal(ctx, store.SignalDecision{
			SignalID: sig.ID,
			To:       to,
			Reason:   d.Reason,
			Quantity: d.Metrics.Quantity,
			Metrics:  raw,
			At:       g.now().UTC(),
			RunID:    runID,
		})
		if err != nil {
			return sum, fmt.Errorf("decide signal %d: %w", sig.ID, err)
		}

		outcome := d.Outcome()
		if !ok {
			outcome = "already_decided"
		}
		sum.Add(outcome)
		g.log.Info("item",
			zap.Int64("signal_id", sig.ID),
			zap.String("instrument", sig.Instrument),
			zap.String("side", string(sig.Side)),
			zap.String("path", string(d.Metrics.Path)),
			zap.Float64("effective_risk", d.Metrics.EffectiveRisk),
			zap.Float64("effective_rr", d.Metrics.EffectiveRR),
			zap.String("outcome", outcome),
		)
	}
	return sum, nil
}
