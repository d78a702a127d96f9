package backtest

import (
	"time"

	"github.com/newthinker/catalyst/internal/indicator"
	"github.com/newthinker/catalyst/internal/strategy"
)

// Result holds the complete backtest output
type Result struct {
	Tickers    []string
	Trades     []Trade
	Skips      []Skip
	SkipCounts map[string]int // per ticker
	Stats      Stats
	StartedAt  time.Time
	Duration   time.Duration
}

// Trade is one simulated event trade. NA fields hold indicator.NA.
type Trade struct {
	Ticker     string
	EventDate  time.Time
	EntryDate  time.Time
	ExitDate   time.Time
	Strategy   strategy.Label
	EntryPrice float64
	ExitPrice  float64
	ATR        float64
	ATRPct     float64
	EntryIV    float64
	ExitIV     float64 // nearest-strike IV in the entry snapshot, a proxy
	IVRank     float64
	PnL        float64
}

// Skip records an event or ticker the run could not turn into a trade
type Skip struct {
	Ticker    string
	EventDate time.Time // zero when the whole ticker was skipped
	Reason    string
}

// Stats holds performance statistics
type Stats struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64 // Percentage of profitable trades
	TotalReturn   float64 // Net return percentage
	MaxDrawdown   float64 // Largest peak-to-trough decline
	SharpeRatio   float64 // Per-trade mean over stdev
}

// IsWin returns true if the trade was profitable
func (t Trade) IsWin() bool {
	return t.HasPnL() && t.PnL > 0
}

// HasPnL returns true if the trade has a defined profit/loss
func (t Trade) HasPnL() bool {
	return !indicator.IsNA(t.PnL)
}

// TotalSkips returns the number of skipped records
func (r *Result) TotalSkips() int {
	return len(r.Skips)
}
