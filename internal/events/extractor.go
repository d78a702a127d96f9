// Package events turns a ticker's earnings history into the catalyst events a
// backtest iterates over.
package events

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/catalyst/internal/core"
)

// DefaultLimit is how many past events are kept per ticker
const DefaultLimit = 20

// Source supplies earnings dates. *marketdata.Adapter satisfies it.
type Source interface {
	EarningsDates(ctx context.Context, ticker string, limit int) ([]time.Time, error)
	Today() time.Time
}

// Config restricts which events are extracted
type Config struct {
	Limit int       // most recent events kept; <= 0 means DefaultLimit
	From  time.Time // inclusive; zero means unbounded
	To    time.Time // inclusive; zero means unbounded
	// Calendar replaces the provider for the listed tickers
	Calendar map[string][]time.Time
}

// Extractor produces catalyst events per ticker
type Extractor struct {
	source Source
	cfg    Config
	logger *zap.Logger
}

// NewExtractor creates an Extractor
func NewExtractor(source Source, cfg Config, logger *zap.Logger) *Extractor {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{source: source, cfg: cfg, logger: logger}
}

// Extract returns the ticker's past events in chronological order. Only dates
// strictly before today are considered; within the configured range the most
// recent Limit are kept. No events is not an error.
func (e *Extractor) Extract(ctx context.Context, ticker string) ([]core.CatalystEvent, error) {
	dates, err := e.dates(ctx, ticker)
	if err != nil {
		return nil, err
	}

	today := e.source.Today()
	from, to := core.NormalizeDate(e.cfg.From), core.NormalizeDate(e.cfg.To)

	seen := make(map[time.Time]bool, len(dates))
	kept := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		d = core.NormalizeDate(d)
		if !d.Before(today) || seen[d] {
			continue
		}
		if !e.cfg.From.IsZero() && d.Before(from) {
			continue
		}
		if !e.cfg.To.IsZero() && d.After(to) {
			continue
		}
		seen[d] = true
		kept = append(kept, d)
	}

	// newest first, cap, then flip to chronological
	sort.Slice(kept, func(i, j int) bool { return kept[i].After(kept[j]) })
	if len(kept) > e.cfg.Limit {
		kept = kept[:e.cfg.Limit]
	}

	out := make([]core.CatalystEvent, len(kept))
	for i, d := range kept {
		out[len(kept)-1-i] = core.CatalystEvent{Ticker: ticker, Date: d}
	}

	e.logger.Debug("extracted events",
		zap.String("ticker", ticker),
		zap.Int("count", len(out)),
	)
	return out, nil
}

func (e *Extractor) dates(ctx context.Context, ticker string) ([]time.Time, error) {
	if cal, ok := e.calendar(ticker); ok {
		return cal, nil
	}

	// a range filter can drop recent dates, so ask for more than Limit
	limit := e.cfg.Limit
	if !e.cfg.From.IsZero() || !e.cfg.To.IsZero() {
		limit = 0
	}
	dates, err := e.source.EarningsDates(ctx, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("earnings dates for %s: %w", ticker, err)
	}
	return dates, nil
}

// calendar looks the ticker up case-insensitively; viper lowercases map keys
func (e *Extractor) calendar(ticker string) ([]time.Time, bool) {
	if cal, ok := e.cfg.Calendar[ticker]; ok {
		return cal, true
	}
	for k, cal := range e.cfg.Calendar {
		if strings.EqualFold(k, ticker) {
			return cal, true
		}
	}
	return nil, false
}
