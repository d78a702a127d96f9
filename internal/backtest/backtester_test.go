package backtest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/newthinker/catalyst/internal/core"
	"github.com/newthinker/catalyst/internal/events"
	"github.com/newthinker/catalyst/internal/indicator"
	"github.com/newthinker/catalyst/internal/marketdata"
	"github.com/newthinker/catalyst/internal/strategy"
)

var (
	day0  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	today = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
)

// risingBars builds n daily bars with High=Low+1, Close=Low+0.5, Low rising by 1 a day
func risingBars(n int) []core.PriceBar {
	bars := make([]core.PriceBar, n)
	for i := range bars {
		low := 100 + float64(i)
		bars[i] = core.PriceBar{
			Date:  day0.AddDate(0, 0, i),
			Open:  low + 0.5,
			High:  low + 1,
			Low:   low,
			Close: low + 0.5,
		}
	}
	return bars
}

func bar(i int) time.Time { return day0.AddDate(0, 0, i) }

func chainFixture(expiry time.Time, quotes ...core.OptionQuote) map[string]core.OptionChain {
	return map[string]core.OptionChain{
		expiry.Format(core.DateLayout): {Quotes: quotes},
	}
}

func call(strike, iv float64) core.OptionQuote {
	return core.OptionQuote{Strike: strike, ImpliedVol: iv, Type: core.OptionCall}
}

func newTestBacktester(t *testing.T, provider marketdata.Provider, cfg Config) *Backtester {
	t.Helper()
	adapter, err := marketdata.NewAdapter(provider, marketdata.Options{Now: func() time.Time { return today }})
	require.NoError(t, err)
	extractor := events.NewExtractor(adapter, events.Config{}, nil)
	bt, err := New(adapter, extractor, cfg, nil, nil)
	require.NoError(t, err)
	return bt
}

func singleEventFixture() marketdata.Fixture {
	expiry := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	return marketdata.Fixture{
		Bars:     risingBars(60),
		Earnings: []time.Time{bar(40)},
		Expiries: []time.Time{expiry, time.Date(2024, 4, 19, 0, 0, 0, 0, time.UTC)},
		Chains: chainFixture(expiry,
			call(115, 0.30),
			call(120, 0.25),
			call(125, 0.35),
			core.OptionQuote{Strike: 120, ImpliedVol: 0.5, Type: core.OptionPut},
		),
	}
}

func TestBacktester_SingleEvent(t *testing.T) {
	mem := marketdata.NewMemory()
	mem.Set("SYN", singleEventFixture())
	bt := newTestBacktester(t, mem, DefaultConfig())

	result, err := bt.Run(context.Background(), []string{"SYN"})
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	assert.Empty(t, result.Skips)

	tr := result.Trades[0]
	assert.Equal(t, "SYN", tr.Ticker)
	assert.Equal(t, bar(40), tr.EventDate)
	assert.Equal(t, bar(20), tr.EntryDate, "entry is 20 trading bars before the event")
	assert.Equal(t, bar(41), tr.ExitDate)
	assert.Equal(t, 120.5, tr.EntryPrice)
	assert.Equal(t, 141.5, tr.ExitPrice)

	// every true range after the first bar is 1.5
	assert.InDelta(t, 1.5, tr.ATR, 1e-9)
	assert.InDelta(t, 1.5/120.5, tr.ATRPct, 1e-9)
	assert.False(t, indicator.IsNA(tr.ATRPct))

	assert.Equal(t, 0.25, tr.EntryIV, "strike 120 is nearest the 120.5 entry")
	assert.Equal(t, 0.35, tr.ExitIV, "strike 125 is nearest the 141.5 exit")
	assert.Equal(t, 0.5, tr.IVRank, "single observation ranks 0.5")

	assert.Contains(t, strategy.Labels(), tr.Strategy)
	assert.Equal(t, strategy.VerticalCall, tr.Strategy)
	assert.InDelta(t, (141.5-120.5)/120.5*0.75, tr.PnL, 1e-9)

	assert.Equal(t, 1, result.Stats.TotalTrades)
	assert.Equal(t, 1, result.Stats.WinningTrades)
}

func TestBacktester_SyntheticPnL(t *testing.T) {
	mem := marketdata.NewMemory()
	mem.Set("SYN", singleEventFixture())
	cfg := DefaultConfig()
	cfg.PnLMode = PnLSynthetic
	bt := newTestBacktester(t, mem, cfg)

	result, err := bt.Run(context.Background(), []string{"SYN"})
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	assert.InDelta(t, 0.75*1.5/120.5, result.Trades[0].PnL, 1e-9)
}

func TestBacktester_NoEvents(t *testing.T) {
	mem := marketdata.NewMemory()
	mem.Set("NEW", marketdata.Fixture{Bars: risingBars(60)})
	bt := newTestBacktester(t, mem, DefaultConfig())

	result, err := bt.Run(context.Background(), []string{"NEW"})
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	assert.Empty(t, result.Skips)
	assert.NotNil(t, result.Trades)
}

func TestBacktester_Idempotent(t *testing.T) {
	mem := marketdata.NewMemory()
	mem.Set("SYN", singleEventFixture())

	first, err := newTestBacktester(t, mem, DefaultConfig()).Run(context.Background(), []string{"SYN"})
	require.NoError(t, err)
	second, err := newTestBacktester(t, mem, DefaultConfig()).Run(context.Background(), []string{"SYN"})
	require.NoError(t, err)

	assert.Equal(t, first.Trades, second.Trades)
}

func TestBacktester_SkipsUnresolvableEvent(t *testing.T) {
	fx := singleEventFixture()
	fx.Earnings = []time.Time{bar(5), bar(40)} // bar 5 has no bar 20 sessions earlier
	mem := marketdata.NewMemory()
	mem.Set("SYN", fx)
	bt := newTestBacktester(t, mem, DefaultConfig())

	result, err := bt.Run(context.Background(), []string{"SYN"})
	require.NoError(t, err)
	assert.Len(t, result.Trades, 1)
	require.Len(t, result.Skips, 1)
	assert.Equal(t, bar(5), result.Skips[0].EventDate)
	assert.Equal(t, map[string]int{"SYN": 1}, result.SkipCounts)
}

func TestBacktester_HistoryFailureSkipsEvents(t *testing.T) {
	fx := singleEventFixture()
	fx.Earnings = []time.Time{bar(30), bar(40)}
	mem := marketdata.NewMemory()
	mem.Set("SYN", fx)
	mem.FailOn("history", errors.New("upstream down"))
	bt := newTestBacktester(t, mem, DefaultConfig())

	result, err := bt.Run(context.Background(), []string{"SYN"})
	require.NoError(t, err, "data failures never abort the run")
	assert.Empty(t, result.Trades)
	assert.Len(t, result.Skips, 2)
	assert.Equal(t, 2, result.SkipCounts["SYN"])
}

func TestBacktester_SkipSummaryFollowsTickerOrder(t *testing.T) {
	tickers := []string{"NVDA", "AAPL", "TSLA", "AMZN", "MSFT"}
	mem := marketdata.NewMemory()
	for _, ticker := range tickers {
		fx := singleEventFixture()
		fx.Earnings = []time.Time{bar(5)} // entry offset runs off the series
		mem.Set(ticker, fx)
	}
	adapter, err := marketdata.NewAdapter(mem, marketdata.Options{Now: func() time.Time { return today }})
	require.NoError(t, err)
	obs, logs := observer.New(zap.WarnLevel)
	bt, err := New(adapter, events.NewExtractor(adapter, events.Config{}, nil), DefaultConfig(), zap.New(obs), nil)
	require.NoError(t, err)

	for run := 0; run < 3; run++ {
		_, err := bt.Run(context.Background(), tickers)
		require.NoError(t, err)

		entries := logs.TakeAll()
		var got []string
		for _, e := range entries {
			if e.Message == "events skipped" {
				got = append(got, e.ContextMap()["ticker"].(string))
			}
		}
		assert.Equal(t, tickers, got)
	}
}

func TestBacktester_NoOptionsIsNotAvailable(t *testing.T) {
	fx := singleEventFixture()
	fx.Expiries = nil
	mem := marketdata.NewMemory()
	mem.Set("SYN", fx)
	bt := newTestBacktester(t, mem, DefaultConfig())

	result, err := bt.Run(context.Background(), []string{"SYN"})
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)

	tr := result.Trades[0]
	assert.Equal(t, strategy.NotAvailable, tr.Strategy)
	assert.True(t, indicator.IsNA(tr.EntryIV))
	assert.True(t, indicator.IsNA(tr.IVRank))
	assert.True(t, indicator.IsNA(tr.PnL))
	assert.False(t, indicator.IsNA(tr.ATRPct))
}

func ivFixture() marketdata.Fixture {
	expiry := time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC)
	return marketdata.Fixture{
		Bars:     risingBars(120),
		Earnings: []time.Time{bar(40), bar(70), bar(100)},
		Expiries: []time.Time{expiry},
		// entries close at 120.5, 150.5, 180.5
		Chains: chainFixture(expiry, call(120, 0.20), call(150, 0.40), call(180, 0.30)),
	}
}

func TestBacktester_IVRankPolicies(t *testing.T) {
	tests := []struct {
		name     string
		policy   string
		lookback int
		want     []float64
	}{
		{"expanding", IVExpanding, 0, []float64{0.5, 1, 0.5}},
		{"fixed window of two", IVFixed, 2, []float64{0.5, 1, 0}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mem := marketdata.NewMemory()
			mem.Set("SYN", ivFixture())
			cfg := DefaultConfig()
			cfg.IVPolicy = tc.policy
			if tc.lookback > 0 {
				cfg.IVLookback = tc.lookback
			}
			bt := newTestBacktester(t, mem, cfg)

			result, err := bt.Run(context.Background(), []string{"SYN"})
			require.NoError(t, err)
			require.Len(t, result.Trades, 3)

			for i, tr := range result.Trades {
				assert.InDelta(t, tc.want[i], tr.IVRank, 1e-9, "event %d", i)
			}
			assert.True(t, result.Trades[0].EventDate.Before(result.Trades[1].EventDate))
		})
	}
}

func TestBacktester_MergesInTickerOrder(t *testing.T) {
	mem := marketdata.NewMemory()
	for _, ticker := range []string{"MSFT", "AAPL", "NVDA", "AMZN"} {
		mem.Set(ticker, singleEventFixture())
	}
	cfg := DefaultConfig()
	cfg.Workers = 3
	bt := newTestBacktester(t, mem, cfg)

	tickers := []string{"MSFT", "AAPL", "NVDA", "AMZN"}
	result, err := bt.Run(context.Background(), tickers)
	require.NoError(t, err)
	require.Len(t, result.Trades, 4)
	for i, tr := range result.Trades {
		assert.Equal(t, tickers[i], tr.Ticker)
	}
}

func TestBacktester_Cancelled(t *testing.T) {
	mem := marketdata.NewMemory()
	mem.Set("SYN", singleEventFixture())
	bt := newTestBacktester(t, mem, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bt.Run(ctx, []string{"SYN"})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	mutate := []struct {
		name string
		fn   func(*Config)
	}{
		{"zero atr window", func(c *Config) { c.ATRWindow = 0 }},
		{"negative atr window", func(c *Config) { c.ATRWindow = -3 }},
		{"zero entry offset", func(c *Config) { c.EntryOffset = 0 }},
		{"zero target dte", func(c *Config) { c.TargetDTE = 0 }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"unknown iv policy", func(c *Config) { c.IVPolicy = "rolling" }},
		{"fixed without lookback", func(c *Config) { c.IVPolicy = IVFixed; c.IVLookback = 0 }},
		{"unknown pnl mode", func(c *Config) { c.PnLMode = "kelly" }},
		{"inverted iv thresholds", func(c *Config) { c.Thresholds.LowIVRank = 0.9 }},
	}

	for _, tc := range mutate {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.fn(&cfg)
			_, err := New(nil, nil, cfg, nil, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrConfigInvalid))
		})
	}
}

func TestTargetExpiry(t *testing.T) {
	entry := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	expiries := []time.Time{
		time.Date(2024, 1, 19, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC), // exactly 30 days
		time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	}

	got, ok := TargetExpiry(expiries, entry, 30)
	require.True(t, ok)
	assert.Equal(t, expiries[1], got)

	got, ok = TargetExpiry(expiries, entry, 365)
	require.True(t, ok)
	assert.Equal(t, expiries[2], got, "falls back to the furthest expiry")

	_, ok = TargetExpiry(nil, entry, 30)
	assert.False(t, ok)
}

func TestATMCall(t *testing.T) {
	chain := core.OptionChain{Quotes: []core.OptionQuote{
		{Strike: 100, ImpliedVol: 0.9, Type: core.OptionPut},
		call(95, 0.31),
		call(105, 0.29),
		call(110, 0.27),
	}}

	q, ok := ATMCall(chain, 100)
	require.True(t, ok)
	assert.Equal(t, 0.31, q.ImpliedVol, "equidistant strikes resolve to the first listed")

	q, ok = ATMCall(chain, 108.9)
	require.True(t, ok)
	assert.Equal(t, 110.0, q.Strike)

	_, ok = ATMCall(core.OptionChain{}, 100)
	assert.False(t, ok)
}

func TestCalculateStats_OnRunOutput(t *testing.T) {
	mem := marketdata.NewMemory()
	mem.Set("SYN", ivFixture())
	bt := newTestBacktester(t, mem, DefaultConfig())

	result, err := bt.Run(context.Background(), []string{"SYN"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Stats.TotalTrades)
	assert.False(t, math.IsNaN(result.Stats.TotalReturn))
}
