package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/newthinker/catalyst/internal/core"
	"github.com/newthinker/catalyst/internal/metrics"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultCacheSize = 512
)

// Options configures an Adapter
type Options struct {
	Timeout   time.Duration // per provider call
	CacheSize int           // max cached responses across all kinds
	Now       func() time.Time
	Logger    *zap.Logger
	Metrics   *metrics.Registry
}

// Adapter is the market data facade used by the backtest and the scanner.
// Every failure it returns matches core.ErrDataUnavailable unless the caller's
// own context was cancelled.
type Adapter struct {
	provider Provider
	cache    *lru.Cache[string, any]
	timeout  time.Duration
	now      func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Registry
}

// NewAdapter wraps provider. The cache lives as long as the Adapter; long-lived
// callers such as the scan scheduler call Reset at the start of every run.
func NewAdapter(provider Provider, opts Options) (*Adapter, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	cache, err := lru.New[string, any](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	return &Adapter{
		provider: provider,
		cache:    cache,
		timeout:  opts.Timeout,
		now:      opts.Now,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}, nil
}

// Reset drops every cached response so the next run sees fresh data
func (a *Adapter) Reset() {
	n := a.cache.Len()
	a.cache.Purge()
	a.logger.Debug("market data cache purged", zap.Int("entries", n))
}

// Today is the adapter clock's calendar date
func (a *Adapter) Today() time.Time {
	return core.NormalizeDate(a.now())
}

// PriceHistory returns the daily series for [start, end], normalized to
// ascending unique dates (first occurrence wins).
func (a *Adapter) PriceHistory(ctx context.Context, ticker string, start, end time.Time) (core.PriceSeries, error) {
	start, end = core.NormalizeDate(start), core.NormalizeDate(end)
	key := fmt.Sprintf("history|%s|%s|%s", ticker, start.Format(core.DateLayout), end.Format(core.DateLayout))
	if v, ok := a.lookup("history", key); ok {
		return v.(core.PriceSeries), nil
	}

	var bars []core.PriceBar
	err := a.call(ctx, "history", ticker, func(ctx context.Context) error {
		var err error
		bars, err = a.provider.FetchHistory(ctx, ticker, start, end)
		return err
	})
	if err != nil {
		return core.PriceSeries{}, err
	}

	series := core.PriceSeries{Ticker: ticker, Bars: normalizeBars(bars)}
	if series.Empty() {
		return core.PriceSeries{}, unavailable(ticker, "history", errors.New("empty price history"))
	}

	a.cache.Add(key, series)
	return series, nil
}

// OptionExpiries returns listed expiries in ascending order
func (a *Adapter) OptionExpiries(ctx context.Context, ticker string) ([]time.Time, error) {
	key := "expiries|" + ticker
	if v, ok := a.lookup("expiries", key); ok {
		return v.([]time.Time), nil
	}

	var raw []time.Time
	err := a.call(ctx, "expiries", ticker, func(ctx context.Context) error {
		var err error
		raw, err = a.provider.FetchExpiries(ctx, ticker)
		return err
	})
	if err != nil {
		return nil, err
	}

	expiries := uniqueDates(raw)
	if len(expiries) == 0 {
		return nil, unavailable(ticker, "expiries", errors.New("no listed expiries"))
	}

	a.cache.Add(key, expiries)
	return expiries, nil
}

// OptionChain returns the chain for one expiry
func (a *Adapter) OptionChain(ctx context.Context, ticker string, expiry time.Time) (core.OptionChain, error) {
	expiry = core.NormalizeDate(expiry)
	key := fmt.Sprintf("chain|%s|%s", ticker, expiry.Format(core.DateLayout))
	if v, ok := a.lookup("chain", key); ok {
		return v.(core.OptionChain), nil
	}

	var chain core.OptionChain
	err := a.call(ctx, "chain", ticker, func(ctx context.Context) error {
		var err error
		chain, err = a.provider.FetchChain(ctx, ticker, expiry)
		return err
	})
	if err != nil {
		return core.OptionChain{}, err
	}
	if len(chain.Quotes) == 0 {
		return core.OptionChain{}, unavailable(ticker, "chain", fmt.Errorf("empty chain for %s", expiry.Format(core.DateLayout)))
	}
	if chain.Ticker == "" {
		chain.Ticker = ticker
	}
	if chain.Expiry.IsZero() {
		chain.Expiry = expiry
	}

	a.cache.Add(key, chain)
	return chain, nil
}

// EarningsDates returns up to limit announcement dates strictly before today,
// most recent first. An empty slice is a valid answer.
func (a *Adapter) EarningsDates(ctx context.Context, ticker string, limit int) ([]time.Time, error) {
	all, err := a.earnings(ctx, ticker, limit)
	if err != nil {
		return nil, err
	}

	today := a.Today()
	past := make([]time.Time, 0, len(all))
	for _, d := range all {
		if d.Before(today) {
			past = append(past, d)
		}
	}
	sort.Slice(past, func(i, j int) bool { return past[i].After(past[j]) })
	if limit > 0 && len(past) > limit {
		past = past[:limit]
	}
	return past, nil
}

// NextEarningsDate returns the first announcement on or after today
func (a *Adapter) NextEarningsDate(ctx context.Context, ticker string) (time.Time, bool, error) {
	all, err := a.earnings(ctx, ticker, 0)
	if err != nil {
		return time.Time{}, false, err
	}

	today := a.Today()
	var next time.Time
	for _, d := range all {
		if !d.Before(today) && (next.IsZero() || d.Before(next)) {
			next = d
		}
	}
	return next, !next.IsZero(), nil
}

func (a *Adapter) earnings(ctx context.Context, ticker string, limit int) ([]time.Time, error) {
	key := fmt.Sprintf("earnings|%s|%d", ticker, limit)
	if v, ok := a.lookup("earnings", key); ok {
		return v.([]time.Time), nil
	}

	var raw []time.Time
	err := a.call(ctx, "earnings", ticker, func(ctx context.Context) error {
		var err error
		// over-fetch so filtering out upcoming dates still leaves limit past ones
		fetch := limit
		if fetch > 0 {
			fetch += 4
		}
		raw, err = a.provider.FetchEarnings(ctx, ticker, fetch)
		return err
	})
	if err != nil {
		return nil, err
	}

	dates := uniqueDates(raw)
	a.cache.Add(key, dates)
	return dates, nil
}

func (a *Adapter) lookup(kind, key string) (any, bool) {
	v, ok := a.cache.Get(key)
	a.metrics.RecordCacheLookup(kind, ok)
	return v, ok
}

// call runs fn under the per-call timeout and maps failures to ErrDataUnavailable.
func (a *Adapter) call(ctx context.Context, op, ticker string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	elapsed := time.Since(start)

	if err == nil {
		a.logger.Debug("provider call",
			zap.String("provider", a.provider.Name()),
			zap.String("op", op),
			zap.String("ticker", ticker),
			zap.Duration("elapsed", elapsed),
		)
		return nil
	}

	// the caller gave up; let cancellation propagate untouched
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", a.timeout, err)
	}
	a.logger.Warn("provider call failed",
		zap.String("provider", a.provider.Name()),
		zap.String("op", op),
		zap.String("ticker", ticker),
		zap.Error(err),
	)
	return unavailable(ticker, op, err)
}

func unavailable(ticker, op string, cause error) error {
	return core.WrapError(core.ErrDataUnavailable, fmt.Errorf("%s %s: %w", ticker, op, cause))
}

func normalizeBars(bars []core.PriceBar) []core.PriceBar {
	out := make([]core.PriceBar, 0, len(bars))
	for _, b := range bars {
		b.Date = core.NormalizeDate(b.Date)
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	// keep the first bar of each date
	uniq := out[:0]
	for i, b := range out {
		if i > 0 && b.Date.Equal(uniq[len(uniq)-1].Date) {
			continue
		}
		uniq = append(uniq, b)
	}
	return uniq
}

func uniqueDates(dates []time.Time) []time.Time {
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		out = append(out, core.NormalizeDate(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })

	uniq := out[:0]
	for i, d := range out {
		if i > 0 && d.Equal(uniq[len(uniq)-1]) {
			continue
		}
		uniq = append(uniq, d)
	}
	return uniq
}
