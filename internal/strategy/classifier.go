// Package strategy maps a volatility snapshot to an options setup label.
package strategy

import (
	"fmt"

	"github.com/newthinker/catalyst/internal/core"
	"github.com/newthinker/catalyst/internal/indicator"
)

// Label names an options setup
type Label string

const (
	LongStraddle Label = "Long Straddle"
	IronCondor   Label = "Iron Condor"
	VerticalCall Label = "Vertical Call"
	NotAvailable Label = "N/A"
)

// Labels lists every label the classifier can emit
func Labels() []Label {
	return []Label{LongStraddle, IronCondor, VerticalCall, NotAvailable}
}

// Thresholds configures the decision table. Kept external so that
// sensitivity runs can sweep them.
type Thresholds struct {
	MinATRPct  float64 `mapstructure:"min_atr_pct"`
	LowIVRank  float64 `mapstructure:"low_iv_rank"`
	HighIVRank float64 `mapstructure:"high_iv_rank"`

	StraddleWeight float64 `mapstructure:"straddle_weight"`
	CondorWeight   float64 `mapstructure:"condor_weight"`
	VerticalWeight float64 `mapstructure:"vertical_weight"`
}

// DefaultThresholds returns the stock decision table
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinATRPct:      0.025,
		LowIVRank:      0.30,
		HighIVRank:     0.60,
		StraddleWeight: 1.0,
		CondorWeight:   0.5,
		VerticalWeight: 0.75,
	}
}

// Validate rejects tables that cannot classify consistently
func (t Thresholds) Validate() error {
	if t.MinATRPct < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("min_atr_pct cannot be negative, got %f", t.MinATRPct))
	}
	if t.LowIVRank < 0 || t.LowIVRank > 1 || t.HighIVRank < 0 || t.HighIVRank > 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("iv rank thresholds must be within [0,1], got low=%f high=%f", t.LowIVRank, t.HighIVRank))
	}
	if t.LowIVRank >= t.HighIVRank {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("low_iv_rank (%f) must be below high_iv_rank (%f)", t.LowIVRank, t.HighIVRank))
	}
	return nil
}

// Decision is the classifier output. Payoff is Weight x ATR%, NA for N/A.
type Decision struct {
	Label  Label
	Weight float64
	Payoff float64
}

// Classify applies the decision table to an ATR% and IV rank. Either input
// being NA yields N/A with an NA payoff.
func Classify(atrPct, ivRank float64, t Thresholds) Decision {
	if indicator.IsNA(atrPct) || indicator.IsNA(ivRank) {
		return Decision{Label: NotAvailable, Weight: indicator.NA, Payoff: indicator.NA}
	}

	var label Label
	var weight float64
	switch {
	case atrPct >= t.MinATRPct && ivRank <= t.LowIVRank:
		label, weight = LongStraddle, t.StraddleWeight
	case atrPct >= t.MinATRPct && ivRank >= t.HighIVRank:
		label, weight = IronCondor, t.CondorWeight
	default:
		label, weight = VerticalCall, t.VerticalWeight
	}

	return Decision{Label: label, Weight: weight, Payoff: weight * atrPct}
}
