package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/newthinker/catalyst/internal/indicator"
)

func TestCalculateStats_Empty(t *testing.T) {
	stats := CalculateStats([]Trade{})
	if stats.TotalTrades != 0 {
		t.Error("expected 0 trades for empty input")
	}
}

func TestCalculateStats_WinRate(t *testing.T) {
	trades := []Trade{
		{PnL: 0.10},  // win
		{PnL: 0.05},  // win
		{PnL: -0.03}, // loss
		{PnL: 0.02},  // win
	}

	stats := CalculateStats(trades)

	if stats.TotalTrades != 4 {
		t.Errorf("TotalTrades = %d, want 4", stats.TotalTrades)
	}
	if stats.WinningTrades != 3 {
		t.Errorf("WinningTrades = %d, want 3", stats.WinningTrades)
	}
	if stats.WinRate != 75 {
		t.Errorf("WinRate = %f, want 75", stats.WinRate)
	}
}

func TestCalculateStats_TotalReturn(t *testing.T) {
	trades := []Trade{
		{PnL: 0.10},
		{PnL: -0.05},
	}

	stats := CalculateStats(trades)

	expected := 5.0 // (0.10 + -0.05) * 100
	if math.Abs(stats.TotalReturn-expected) > 0.001 {
		t.Errorf("TotalReturn = %f, want %f", stats.TotalReturn, expected)
	}
}

func TestCalculateMaxDrawdown(t *testing.T) {
	// Simulate: +10%, +5%, -20%, +10%
	// Peak at 1.155, trough at 0.924, DD = 20%
	returns := []float64{0.10, 0.05, -0.20, 0.10}
	dd := calculateMaxDrawdown(returns)

	if dd < 0.19 || dd > 0.21 {
		t.Errorf("MaxDrawdown = %f, expected ~0.20", dd)
	}
}

func TestCalculateStats_DrawdownFollowsEventOrder(t *testing.T) {
	d := func(m time.Month) time.Time { return time.Date(2024, m, 1, 0, 0, 0, 0, time.UTC) }
	// listed out of order; chronologically the loss comes after both gains
	trades := []Trade{
		{EventDate: d(3), PnL: -0.20},
		{EventDate: d(1), PnL: 0.10},
		{EventDate: d(2), PnL: 0.05},
	}

	stats := CalculateStats(trades)
	if stats.MaxDrawdown < 19 || stats.MaxDrawdown > 21 {
		t.Errorf("MaxDrawdown = %f, expected ~20", stats.MaxDrawdown)
	}
}

func TestCalculateStats_IgnoresUndefinedPnL(t *testing.T) {
	trades := []Trade{
		{PnL: 0.10},
		{PnL: indicator.NA}, // N/A classification
	}

	stats := CalculateStats(trades)

	if stats.TotalTrades != 2 {
		t.Errorf("TotalTrades = %d, want 2", stats.TotalTrades)
	}
	if stats.WinningTrades != 1 || stats.LosingTrades != 0 {
		t.Errorf("should only count defined trades, got %d/%d", stats.WinningTrades, stats.LosingTrades)
	}
}

func TestCalculateSharpeRatio(t *testing.T) {
	if got := calculateSharpeRatio([]float64{0.1}); got != 0 {
		t.Errorf("single return Sharpe = %f, want 0", got)
	}
	if got := calculateSharpeRatio([]float64{0.1, 0.1, 0.1}); got != 0 {
		t.Errorf("zero-variance Sharpe = %f, want 0", got)
	}
	if got := calculateSharpeRatio([]float64{0.1, 0.3}); math.Abs(got-1.4142) > 0.001 {
		t.Errorf("Sharpe = %f, want ~1.4142", got)
	}
}
