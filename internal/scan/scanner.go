// Package scan produces today's volatility snapshot for a ticker universe and
// selects the rows worth alerting on ahead of earnings.
package scan

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/newthinker/catalyst/internal/backtest"
	"github.com/newthinker/catalyst/internal/core"
	"github.com/newthinker/catalyst/internal/indicator"
	"github.com/newthinker/catalyst/internal/strategy"
)

// MarketData is the subset of *marketdata.Adapter the scanner needs
type MarketData interface {
	PriceHistory(ctx context.Context, ticker string, start, end time.Time) (core.PriceSeries, error)
	OptionExpiries(ctx context.Context, ticker string) ([]time.Time, error)
	OptionChain(ctx context.Context, ticker string, expiry time.Time) (core.OptionChain, error)
	NextEarningsDate(ctx context.Context, ticker string) (time.Time, bool, error)
	Today() time.Time
}

// resetter is implemented by market data sources that cache between runs
type resetter interface {
	Reset()
}

// Config parameterizes the snapshot
type Config struct {
	HistoryDays     int                 `mapstructure:"history_days"` // calendar days of bars
	MinBars         int                 `mapstructure:"min_bars"`
	ATRWindow       int                 `mapstructure:"atr_window"`
	DollarATRWindow int                 `mapstructure:"dollar_atr_window"`
	ZLookback       int                 `mapstructure:"z_lookback"`
	VolWindow       int                 `mapstructure:"vol_window"`
	ChangeBars      int                 `mapstructure:"change_bars"`
	Workers         int                 `mapstructure:"workers"`
	Thresholds      strategy.Thresholds `mapstructure:"thresholds"`
}

// DefaultConfig returns the stock scan parameters
func DefaultConfig() Config {
	return Config{
		HistoryDays:     183,
		MinBars:         30,
		ATRWindow:       14,
		DollarATRWindow: 20,
		ZLookback:       20,
		VolWindow:       20,
		ChangeBars:      5,
		Workers:         4,
		Thresholds:      strategy.DefaultThresholds(),
	}
}

// Validate rejects non-positive windows
func (c Config) Validate() error {
	windows := map[string]int{
		"history_days":      c.HistoryDays,
		"min_bars":          c.MinBars,
		"atr_window":        c.ATRWindow,
		"dollar_atr_window": c.DollarATRWindow,
		"z_lookback":        c.ZLookback,
		"vol_window":        c.VolWindow,
		"change_bars":       c.ChangeBars,
		"workers":           c.Workers,
	}
	for name, v := range windows {
		if v <= 0 {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("scan %s must be positive, got %d", name, v))
		}
	}
	return c.Thresholds.Validate()
}

// Snapshot is one ticker's row. NA floats hold indicator.NA; DaysUntil is -1
// when no upcoming earnings date is known. A non-empty Err means the row
// could not be computed at all.
type Snapshot struct {
	Ticker       string
	AsOf         time.Time
	Close        float64
	ATRPct       float64
	DollarATR    float64
	ATRPctZ      float64
	IVRank       float64 // realized-volatility proxy
	IVRankChange float64
	FrontExpiry  time.Time
	ATMStrike    float64
	ATMIV        float64
	NextEarnings time.Time
	DaysUntil    int
	Setup        strategy.Label
	PnLEstimate  float64 // classifier payoff, in units of price
	DollarPnL    float64
	Err          string
}

// HasEarnings reports whether an upcoming earnings date is known
func (s Snapshot) HasEarnings() bool {
	return !s.NextEarnings.IsZero()
}

// Scanner computes snapshots
type Scanner struct {
	data   MarketData
	cfg    Config
	logger *zap.Logger
}

// NewScanner validates cfg and creates a Scanner
func NewScanner(data MarketData, cfg Config, logger *zap.Logger) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{data: data, cfg: cfg, logger: logger}, nil
}

// Scan returns one snapshot per ticker, in ticker order. Per-ticker failures
// are reported in Snapshot.Err; only cancellation of ctx fails the scan.
// Each call is a fresh run: cached market data from earlier scans is dropped.
func (s *Scanner) Scan(ctx context.Context, tickers []string) ([]Snapshot, error) {
	if r, ok := s.data.(resetter); ok {
		r.Reset()
	}

	out := make([]Snapshot, len(tickers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for i, ticker := range tickers {
		g.Go(func() error {
			snap, err := s.snapshot(gctx, ticker)
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err != nil {
				s.logger.Warn("scan failed", zap.String("ticker", ticker), zap.Error(err))
				snap.Err = err.Error()
			}
			out[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Scanner) snapshot(ctx context.Context, ticker string) (Snapshot, error) {
	today := s.data.Today()
	snap := Snapshot{
		Ticker:       ticker,
		AsOf:         today,
		Close:        indicator.NA,
		ATRPct:       indicator.NA,
		DollarATR:    indicator.NA,
		ATRPctZ:      indicator.NA,
		IVRank:       indicator.NA,
		IVRankChange: indicator.NA,
		ATMStrike:    indicator.NA,
		ATMIV:        indicator.NA,
		DaysUntil:    -1,
		Setup:        strategy.NotAvailable,
		PnLEstimate:  indicator.NA,
		DollarPnL:    indicator.NA,
	}

	series, err := s.data.PriceHistory(ctx, ticker, today.AddDate(0, 0, -s.cfg.HistoryDays), today)
	if err != nil {
		return snap, err
	}
	if series.Len() < s.cfg.MinBars {
		return snap, core.WrapError(core.ErrInsufficientHistory,
			fmt.Errorf("%d bars, need %d", series.Len(), s.cfg.MinBars))
	}

	last := series.Len() - 1
	snap.Close = series.Bars[last].Close

	atr := indicator.ATR(series, s.cfg.ATRWindow)
	atrPct := make([]float64, len(atr))
	for i, v := range atr {
		atrPct[i] = indicator.ATRPercent(v, series.Bars[i].Close)
	}
	snap.ATRPct = atrPct[last]
	snap.ATRPctZ = indicator.ZScore(atrPct, s.cfg.ZLookback)
	snap.DollarATR = indicator.ATR(series, s.cfg.DollarATRWindow)[last]

	snap.IVRank, snap.IVRankChange = volRank(series.Closes(), s.cfg.VolWindow, s.cfg.ChangeBars)

	decision := strategy.Classify(snap.ATRPct, snap.IVRank, s.cfg.Thresholds)
	snap.Setup = decision.Label
	snap.PnLEstimate = decision.Payoff
	if !indicator.IsNA(decision.Payoff) {
		snap.DollarPnL = decision.Payoff * snap.Close
	}

	s.frontMonth(ctx, &snap, today)
	s.earnings(ctx, &snap, today)
	return snap, nil
}

// frontMonth fills the front-month ATM strike; options failures leave NA.
// The front month is the first expiry on or after today.
func (s *Scanner) frontMonth(ctx context.Context, snap *Snapshot, today time.Time) {
	expiries, err := s.data.OptionExpiries(ctx, snap.Ticker)
	if err != nil {
		s.logger.Debug("no option expiries", zap.String("ticker", snap.Ticker), zap.Error(err))
		return
	}
	i := sort.Search(len(expiries), func(i int) bool { return !expiries[i].Before(today) })
	if i == len(expiries) {
		s.logger.Debug("all listed expiries have passed", zap.String("ticker", snap.Ticker))
		return
	}
	front := expiries[i]
	chain, err := s.data.OptionChain(ctx, snap.Ticker, front)
	if err != nil {
		s.logger.Debug("no front-month chain", zap.String("ticker", snap.Ticker), zap.Error(err))
		return
	}
	snap.FrontExpiry = front
	if q, ok := backtest.ATMCall(chain, snap.Close); ok {
		snap.ATMStrike = q.Strike
		if q.ImpliedVol > 0 {
			snap.ATMIV = q.ImpliedVol
		}
	}
}

func (s *Scanner) earnings(ctx context.Context, snap *Snapshot, today time.Time) {
	next, ok, err := s.data.NextEarningsDate(ctx, snap.Ticker)
	if err != nil {
		s.logger.Debug("no earnings calendar", zap.String("ticker", snap.Ticker), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	snap.NextEarnings = next
	snap.DaysUntil = int(next.Sub(today).Hours() / 24)
}

// volRank ranks the latest realized volatility within the series' own range
// and reports how far that rank moved over the last change bars.
func volRank(closes []float64, window, change int) (float64, float64) {
	rv := indicator.RealizedVol(closes, window)
	last := len(rv) - 1
	if last < 0 {
		return indicator.NA, indicator.NA
	}

	rank := indicator.IVRank(rv[last], rv)
	delta := indicator.NA
	if prev := last - change; prev >= 0 && !indicator.IsNA(rank) {
		if before := indicator.IVRank(rv[prev], rv); !indicator.IsNA(before) {
			delta = rank - before
		}
	}
	return rank, delta
}
