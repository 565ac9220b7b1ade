package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidProfile = errors.New("invalid risk profile")

// ChargesModel holds per-order brokerage and turnover-based rates.
type ChargesModel struct {
	BrokeragePerOrder float64 `yaml:"brokerage_per_order"`
	TaxRate           float64 `yaml:"tax_rate"`        // sell side
	LevyRate          float64 `yaml:"levy_rate"`       // both sides
	StampDutyRate     float64 `yaml:"stamp_duty_rate"` // buy side
	GSTRate           float64 `yaml:"gst_rate"`        // on brokerage + levy
}

type RiskProfile struct {
	Name          string        `yaml:"name"`
	Version       string        `yaml:"version"`
	RRMin         float64       `yaml:"rr_min"`
	SLCapPerTrade float64       `yaml:"sl_cap_per_trade"`
	SLCapPerLot   float64       `yaml:"sl_cap_per_lot"`
	Lots          int           `yaml:"lots"`
	Charges       *ChargesModel `yaml:"charges"`
}

func (p RiskProfile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if p.RRMin < 1.0 {
		return fmt.Errorf("%w: %s: rr_min %.4f < 1.0", ErrInvalidProfile, p.Name, p.RRMin)
	}
	if p.SLCapPerTrade <= 0 {
		return fmt.Errorf("%w: %s: sl_cap_per_trade must be > 0", ErrInvalidProfile, p.Name)
	}
	if p.SLCapPerLot < 0 {
		return fmt.Errorf("%w: %s: sl_cap_per_lot must be >= 0", ErrInvalidProfile, p.Name)
	}
	if p.Lots < 1 {
		return fmt.Errorf("%w: %s: lots must be >= 1", ErrInvalidProfile, p.Name)
	}
	if c := p.Charges; c != nil {
		for name, v := range map[string]float64{
			"brokerage_per_order": c.BrokeragePerOrder,
			"tax_rate":            c.TaxRate,
			"levy_rate":           c.LevyRate,
			"stamp_duty_rate":     c.StampDutyRate,
			"gst_rate":            c.GSTRate,
		} {
			if v < 0 {
				return fmt.Errorf("%w: %s: %s must be >= 0", ErrInvalidProfile, p.Name, name)
			}
		}
	}
	return nil
}

// SLCapLot is the per-lot cap used by the nominal path; it falls back to
// the per-trade cap when no per-lot cap is configured.
func (p RiskProfile) SLCapLot() float64 {
	if p.SLCapPerLot > 0 {
		return p.SLCapPerLot
	}
	return p.SLCapPerTrade
}

// ProfileOverrides are invocation-time threshold overrides. Zero means unset.
type ProfileOverrides struct {
	RRMin         float64
	SLCapPerTrade float64
}

func (o ProfileOverrides) Empty() bool { return o.RRMin == 0 && o.SLCapPerTrade == 0 }

// WithOverrides returns a validated copy of p with o applied and the
// version marked as overridden.
func (p RiskProfile) WithOverrides(o ProfileOverrides) (RiskProfile, error) {
	if o.Empty() {
		return p, nil
	}
	out := p
	if o.RRMin != 0 {
		out.RRMin = o.RRMin
	}
	if o.SLCapPerTrade != 0 {
		out.SLCapPerTrade = o.SLCapPerTrade
	}
	if p.Charges != nil {
		c := *p.Charges
		out.Charges = &c
	}
	out.Version = p.Version + "+override"
	return out, out.Validate()
}

type RiskPath string

const (
	PathCharges RiskPath = "charges"
	PathNominal RiskPath = "nominal"
)

// Reject reasons recorded on signals.
const (
	ReasonRiskOverCap   = "risk>cap"
	ReasonRRUnderMin    = "rr<min"
	ReasonNoDerivative  = "no_derivative"
	ReasonInvalidLevels = "invalid_levels"
)

// RiskMetrics is persisted next to every gate decision.
type RiskMetrics struct {
	Path            RiskPath `json:"path"`
	Profile         string   `json:"profile"`
	ProfileVersion  string   `json:"profile_version"`
	Quantity        int      `json:"quantity"`
	GrossRisk       float64  `json:"gross_risk"`
	GrossReward     float64  `json:"gross_reward"`
	ChargesAtStop   float64  `json:"charges_at_stop"`
	ChargesAtTarget float64  `json:"charges_at_target"`
	EffectiveRisk   float64  `json:"effective_risk"`
	EffectiveReward float64  `json:"effective_reward"`
	EffectiveRR     float64  `json:"effective_rr"`
	NominalRR       float64  `json:"nominal_rr"`
	SLPerLot        float64  `json:"sl_per_lot,omitempty"`
	RRMin           float64  `json:"rr_min"`
	Cap             float64  `json:"cap"`
}

type Decision struct {
	Admit   bool
	Reason  string
	Metrics RiskMetrics
}

// Outcome is the log label of the decision.
func (d Decision) Outcome() string {
	if d.Admit {
		return "admitted"
	}
	return "rejected:" + d.Reason
}
