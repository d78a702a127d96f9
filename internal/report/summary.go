// Package report turns backtest trades into flat CSV exports and per-strategy
// summaries.
package report

import (
	"sort"

	"github.com/newthinker/catalyst/internal/backtest"
	"github.com/newthinker/catalyst/internal/indicator"
	"github.com/newthinker/catalyst/internal/strategy"
)

// StrategySummary aggregates the trades of one strategy label. The P/L
// statistics cover trades with a defined P/L; WinRate is over all trades.
type StrategySummary struct {
	Strategy strategy.Label
	Count    int
	Mean     float64
	Std      float64
	Min      float64
	Max      float64
	WinRate  float64 // fraction in [0,1]
}

// Summarize groups trades by strategy label, sorted by label
func Summarize(trades []backtest.Trade) []StrategySummary {
	groups := make(map[strategy.Label][]backtest.Trade)
	for _, t := range trades {
		groups[t.Strategy] = append(groups[t.Strategy], t)
	}

	labels := make([]strategy.Label, 0, len(groups))
	for l := range groups {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	out := make([]StrategySummary, 0, len(labels))
	for _, l := range labels {
		out = append(out, summarize(l, groups[l]))
	}
	return out
}

func summarize(label strategy.Label, trades []backtest.Trade) StrategySummary {
	s := StrategySummary{
		Strategy: label,
		Count:    len(trades),
		Min:      indicator.NA,
		Max:      indicator.NA,
	}

	var pnls []float64
	wins := 0
	for _, t := range trades {
		if t.IsWin() {
			wins++
		}
		if !t.HasPnL() {
			continue
		}
		pnls = append(pnls, t.PnL)
		if indicator.IsNA(s.Min) || t.PnL < s.Min {
			s.Min = t.PnL
		}
		if indicator.IsNA(s.Max) || t.PnL > s.Max {
			s.Max = t.PnL
		}
	}

	s.Mean = indicator.Mean(pnls)
	s.Std = indicator.Stdev(pnls)
	s.WinRate = float64(wins) / float64(len(trades))
	return s
}
