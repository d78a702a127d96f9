package strategy

import (
	"errors"
	"testing"

	"github.com/newthinker/catalyst/internal/core"
	"github.com/newthinker/catalyst/internal/indicator"
	"github.com/stretchr/testify/assert"
)

func TestClassify_DecisionTable(t *testing.T) {
	defaults := DefaultThresholds()

	tests := []struct {
		name       string
		atrPct     float64
		ivRank     float64
		wantLabel  Label
		wantPayoff float64
	}{
		{"high atr low iv", 0.03, 0.20, LongStraddle, 1.0 * 0.03},
		{"high atr high iv", 0.03, 0.70, IronCondor, 0.5 * 0.03},
		{"low atr", 0.01, 0.50, VerticalCall, 0.75 * 0.01},
		{"high atr mid iv", 0.03, 0.45, VerticalCall, 0.75 * 0.03},
		{"boundary atr and low iv", 0.025, 0.30, LongStraddle, 0.025},
		{"boundary high iv", 0.025, 0.60, IronCondor, 0.5 * 0.025},
		{"low atr high iv", 0.01, 0.90, VerticalCall, 0.75 * 0.01},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := Classify(tc.atrPct, tc.ivRank, defaults)
			assert.Equal(t, tc.wantLabel, d.Label)
			assert.InDelta(t, tc.wantPayoff, d.Payoff, 1e-12)
		})
	}
}

func TestClassify_MissingInput(t *testing.T) {
	defaults := DefaultThresholds()

	d := Classify(indicator.NA, 0.5, defaults)
	assert.Equal(t, NotAvailable, d.Label)
	assert.True(t, indicator.IsNA(d.Payoff))

	d = Classify(0.03, indicator.NA, defaults)
	assert.Equal(t, NotAvailable, d.Label)
	assert.True(t, indicator.IsNA(d.Payoff))
}

func TestClassify_CustomThresholds(t *testing.T) {
	th := DefaultThresholds()
	th.MinATRPct = 0.005
	th.StraddleWeight = 2

	d := Classify(0.01, 0.1, th)
	assert.Equal(t, LongStraddle, d.Label)
	assert.InDelta(t, 0.02, d.Payoff, 1e-12)
}

func TestThresholds_Validate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())

	bad := DefaultThresholds()
	bad.LowIVRank = 0.7
	err := bad.Validate()
	assert.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))

	bad = DefaultThresholds()
	bad.MinATRPct = -1
	assert.Error(t, bad.Validate())

	bad = DefaultThresholds()
	bad.HighIVRank = 1.5
	assert.Error(t, bad.Validate())
}

func TestLabels(t *testing.T) {
	assert.Len(t, Labels(), 4)
	assert.Contains(t, Labels(), NotAvailable)
}
