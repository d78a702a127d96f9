// Package backtest replays past earnings events: for each event it takes a
// volatility snapshot some trading days before the announcement, classifies an
// options setup and records the resulting synthetic trade.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/newthinker/catalyst/internal/core"
	"github.com/newthinker/catalyst/internal/indicator"
	"github.com/newthinker/catalyst/internal/marketdata"
	"github.com/newthinker/catalyst/internal/metrics"
	"github.com/newthinker/catalyst/internal/strategy"
)

// IV history policies
const (
	IVExpanding = "expanding"
	IVFixed     = "fixed"
)

// P/L conventions
const (
	// PnLPrice scales the underlying's entry-to-exit return by the setup weight
	PnLPrice = "price"
	// PnLSynthetic uses the classifier payoff (weight x ATR%) directly
	PnLSynthetic = "synthetic"
)

// bars may not sit further than this from the date they stand in for
const maxResolveGap = 7 * 24 * time.Hour

// MarketData is the subset of *marketdata.Adapter the backtest needs
type MarketData interface {
	PriceHistory(ctx context.Context, ticker string, start, end time.Time) (core.PriceSeries, error)
	OptionExpiries(ctx context.Context, ticker string) ([]time.Time, error)
	OptionChain(ctx context.Context, ticker string, expiry time.Time) (core.OptionChain, error)
	Today() time.Time
}

// EventSource yields a ticker's catalyst events in chronological order
type EventSource interface {
	Extract(ctx context.Context, ticker string) ([]core.CatalystEvent, error)
}

// Config parameterizes a run
type Config struct {
	ATRWindow   int                 `mapstructure:"atr_window"`
	EntryOffset int                 `mapstructure:"entry_offset"` // trading days before the event
	ExitOffset  int                 `mapstructure:"exit_offset"`  // trading days after the event
	TargetDTE   int                 `mapstructure:"target_dte"`   // calendar days from entry
	Thresholds  strategy.Thresholds `mapstructure:"thresholds"`
	IVPolicy    string              `mapstructure:"iv_policy"`
	IVLookback  int                 `mapstructure:"iv_lookback"` // events kept under IVFixed
	PnLMode     string              `mapstructure:"pnl_mode"`
	Workers     int                 `mapstructure:"workers"`
}

// DefaultConfig returns the stock run parameters
func DefaultConfig() Config {
	return Config{
		ATRWindow:   14,
		EntryOffset: 20,
		ExitOffset:  1,
		TargetDTE:   30,
		Thresholds:  strategy.DefaultThresholds(),
		IVPolicy:    IVExpanding,
		IVLookback:  8,
		PnLMode:     PnLPrice,
		Workers:     4,
	}
}

// Validate checks the run parameters before any data is fetched
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf(format, args...))
	}
	switch {
	case c.ATRWindow <= 0:
		return invalid("atr_window must be positive, got %d", c.ATRWindow)
	case c.EntryOffset <= 0:
		return invalid("entry_offset must be positive, got %d", c.EntryOffset)
	case c.ExitOffset < 0:
		return invalid("exit_offset cannot be negative, got %d", c.ExitOffset)
	case c.TargetDTE <= 0:
		return invalid("target_dte must be positive, got %d", c.TargetDTE)
	case c.Workers <= 0:
		return invalid("workers must be positive, got %d", c.Workers)
	}
	switch c.IVPolicy {
	case IVExpanding:
	case IVFixed:
		if c.IVLookback <= 0 {
			return invalid("iv_lookback must be positive for the fixed policy, got %d", c.IVLookback)
		}
	default:
		return invalid("unknown iv_policy %q", c.IVPolicy)
	}
	if c.PnLMode != PnLPrice && c.PnLMode != PnLSynthetic {
		return invalid("unknown pnl_mode %q", c.PnLMode)
	}
	return c.Thresholds.Validate()
}

// Backtester runs event backtests over a ticker universe
type Backtester struct {
	data    MarketData
	events  EventSource
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Registry
}

// New creates a Backtester; cfg is validated here so a bad configuration
// fails before any fetch.
func New(data MarketData, events EventSource, cfg Config, logger *zap.Logger, m *metrics.Registry) (*Backtester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backtester{
		data:    data,
		events:  events,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}, nil
}

type tickerResult struct {
	trades []Trade
	skips  []Skip
}

// Run backtests every ticker. Data problems become skips; only cancellation of
// ctx aborts the run. Tickers run concurrently and the output is merged in
// ticker order, so identical inputs yield identical results.
func (b *Backtester) Run(ctx context.Context, tickers []string) (*Result, error) {
	started := time.Now()
	b.metrics.SetUniverseSize(len(tickers))

	slots := make([]tickerResult, len(tickers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)

	for i, ticker := range tickers {
		g.Go(func() error {
			res, err := b.runTicker(gctx, ticker)
			if err != nil {
				return err
			}
			slots[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		b.metrics.RecordBacktest("cancelled", time.Since(started).Seconds())
		return nil, err
	}

	result := &Result{
		Tickers:    tickers,
		Trades:     []Trade{},
		SkipCounts: make(map[string]int, len(tickers)),
		StartedAt:  started,
	}
	for i, slot := range slots {
		result.Trades = append(result.Trades, slot.trades...)
		result.Skips = append(result.Skips, slot.skips...)
		if len(slot.skips) > 0 {
			result.SkipCounts[tickers[i]] = len(slot.skips)
		}
	}
	result.Stats = CalculateStats(result.Trades)
	result.Duration = time.Since(started)

	b.metrics.RecordBacktest("success", result.Duration.Seconds())
	b.logger.Info("backtest finished",
		zap.Int("tickers", len(tickers)),
		zap.Int("trades", len(result.Trades)),
		zap.Int("skipped", len(result.Skips)),
		zap.Duration("elapsed", result.Duration),
	)
	for i, slot := range slots {
		if len(slot.skips) > 0 {
			b.logger.Warn("events skipped", zap.String("ticker", tickers[i]), zap.Int("count", len(slot.skips)))
		}
	}
	return result, nil
}

// runTicker processes one ticker's events in chronological order. The
// returned error is non-nil only when ctx is done.
func (b *Backtester) runTicker(ctx context.Context, ticker string) (tickerResult, error) {
	var res tickerResult
	skip := func(eventDate time.Time, err error) {
		b.logger.Warn("skipping",
			zap.String("ticker", ticker),
			zap.String("event_date", dateString(eventDate)),
			zap.Error(err),
		)
		b.metrics.RecordSkip(ticker)
		res.skips = append(res.skips, Skip{Ticker: ticker, EventDate: eventDate, Reason: err.Error()})
	}

	evs, err := b.events.Extract(ctx, ticker)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		skip(time.Time{}, err)
		return res, nil
	}
	if len(evs) == 0 {
		b.logger.Info("no events", zap.String("ticker", ticker))
		return res, nil
	}

	series, err := b.data.PriceHistory(ctx, ticker, b.windowStart(evs[0].Date), b.windowEnd(evs[len(evs)-1].Date))
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		for _, ev := range evs {
			skip(ev.Date, err)
		}
		return res, nil
	}

	atr := indicator.ATR(series, b.cfg.ATRWindow)
	var ivHistory []float64

	for _, ev := range evs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		trade, iv, err := b.runEvent(ctx, series, atr, ivHistory, ev)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			skip(ev.Date, err)
			continue
		}
		if !indicator.IsNA(iv) {
			ivHistory = append(ivHistory, iv)
		}
		b.metrics.RecordTrade(string(trade.Strategy))
		res.trades = append(res.trades, trade)
	}
	return res, nil
}

// runEvent builds the trade for one event. iv is the entry IV to append to the
// ticker's history, NA if none was observed.
func (b *Backtester) runEvent(ctx context.Context, series core.PriceSeries, atr, ivHistory []float64, ev core.CatalystEvent) (Trade, float64, error) {
	eventIdx, err := resolve(series, ev.Date)
	if err != nil {
		return Trade{}, indicator.NA, err
	}
	entryIdx := eventIdx - b.cfg.EntryOffset
	exitIdx := eventIdx + b.cfg.ExitOffset
	if entryIdx < 0 {
		return Trade{}, indicator.NA, core.WrapError(core.ErrInsufficientHistory,
			fmt.Errorf("entry bar is %d trading days before the first bar", -entryIdx))
	}
	if exitIdx >= series.Len() {
		return Trade{}, indicator.NA, core.WrapError(core.ErrDataUnavailable,
			fmt.Errorf("no bar %d trading days after the event", b.cfg.ExitOffset))
	}

	entry, exit := series.Bars[entryIdx], series.Bars[exitIdx]
	trade := Trade{
		Ticker:     ev.Ticker,
		EventDate:  ev.Date,
		EntryDate:  entry.Date,
		ExitDate:   exit.Date,
		EntryPrice: entry.Close,
		ExitPrice:  exit.Close,
		ATR:        atr[entryIdx],
		ATRPct:     indicator.ATRPercent(atr[entryIdx], entry.Close),
		EntryIV:    indicator.NA,
		ExitIV:     indicator.NA,
		IVRank:     indicator.NA,
	}

	chain, err := b.entryChain(ctx, ev.Ticker, entry.Date)
	switch {
	case err == nil:
		if q, ok := ATMCall(chain, entry.Close); ok && q.ImpliedVol > 0 {
			trade.EntryIV = q.ImpliedVol
		}
		if q, ok := ATMCall(chain, exit.Close); ok && q.ImpliedVol > 0 {
			trade.ExitIV = q.ImpliedVol
		}
	case ctx.Err() != nil:
		return Trade{}, indicator.NA, ctx.Err()
	default:
		// without options data the trade is still recorded, labelled N/A
		b.logger.Warn("no option data for event",
			zap.String("ticker", ev.Ticker),
			zap.String("event_date", dateString(ev.Date)),
			zap.Error(err),
		)
	}

	if !indicator.IsNA(trade.EntryIV) {
		history := append(ivHistory[:len(ivHistory):len(ivHistory)], trade.EntryIV)
		trade.IVRank = indicator.IVRank(trade.EntryIV, b.ivWindow(history))
	}

	decision := strategy.Classify(trade.ATRPct, trade.IVRank, b.cfg.Thresholds)
	trade.Strategy = decision.Label
	trade.PnL = b.pnl(trade, decision)

	return trade, trade.EntryIV, nil
}

// entryChain fetches the chain whose expiry is the first at least TargetDTE
// calendar days after entry, else the furthest listed.
func (b *Backtester) entryChain(ctx context.Context, ticker string, entry time.Time) (core.OptionChain, error) {
	expiries, err := b.data.OptionExpiries(ctx, ticker)
	if err != nil {
		return core.OptionChain{}, err
	}
	expiry, ok := TargetExpiry(expiries, entry, b.cfg.TargetDTE)
	if !ok {
		return core.OptionChain{}, core.WrapError(core.ErrDataUnavailable, errors.New("no listed expiries"))
	}
	return b.data.OptionChain(ctx, ticker, expiry)
}

// ivWindow applies the IV history policy to a history that already includes
// the current observation.
func (b *Backtester) ivWindow(history []float64) []float64 {
	if b.cfg.IVPolicy == IVFixed && len(history) > b.cfg.IVLookback {
		return history[len(history)-b.cfg.IVLookback:]
	}
	return history
}

func (b *Backtester) pnl(t Trade, d strategy.Decision) float64 {
	if b.cfg.PnLMode == PnLSynthetic {
		return d.Payoff
	}
	if indicator.IsNA(d.Weight) || t.EntryPrice == 0 {
		return indicator.NA
	}
	return (t.ExitPrice - t.EntryPrice) / t.EntryPrice * d.Weight
}

// windowStart leaves room for the entry offset plus a full ATR window, in
// calendar days with slack for weekends and holidays.
func (b *Backtester) windowStart(first time.Time) time.Time {
	days := (b.cfg.EntryOffset+b.cfg.ATRWindow)*2 + 10
	return core.NormalizeDate(first).AddDate(0, 0, -days)
}

func (b *Backtester) windowEnd(last time.Time) time.Time {
	end := core.NormalizeDate(last).AddDate(0, 0, b.cfg.ExitOffset*2+7)
	if today := b.data.Today(); end.After(today) {
		end = today
	}
	return end
}

// resolve maps an event date onto a bar index, rejecting matches that land
// too far away to be the same session.
func resolve(series core.PriceSeries, date time.Time) (int, error) {
	idx, ok := marketdata.NearestIndex(series, date)
	if !ok {
		return -1, core.WrapError(core.ErrDataUnavailable, errors.New("empty price history"))
	}
	gap := series.Bars[idx].Date.Sub(core.NormalizeDate(date))
	if gap < 0 {
		gap = -gap
	}
	if gap > maxResolveGap {
		return -1, core.WrapError(core.ErrDataUnavailable,
			fmt.Errorf("nearest bar %s is too far from %s", dateString(series.Bars[idx].Date), dateString(date)))
	}
	return idx, nil
}

// TargetExpiry picks the first expiry at least dte calendar days after entry,
// falling back to the furthest one. expiries must be ascending.
func TargetExpiry(expiries []time.Time, entry time.Time, dte int) (time.Time, bool) {
	if len(expiries) == 0 {
		return time.Time{}, false
	}
	minExpiry := core.NormalizeDate(entry).AddDate(0, 0, dte)
	for _, e := range expiries {
		if !e.Before(minExpiry) {
			return e, true
		}
	}
	return expiries[len(expiries)-1], true
}

// ATMCall returns the call whose strike is closest to price; the first one
// in provider order wins ties.
func ATMCall(chain core.OptionChain, price float64) (core.OptionQuote, bool) {
	var best core.OptionQuote
	found := false
	bestDist := math.Inf(1)
	for _, q := range chain.Calls() {
		if d := math.Abs(q.Strike - price); d < bestDist {
			best, bestDist, found = q, d, true
		}
	}
	return best, found
}

func dateString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(core.DateLayout)
}
