// Package marketdata wraps an external market data provider with a bounded
// run-scoped cache, per-call timeouts and nearest-date lookups.
package marketdata

import (
	"context"
	"time"

	"github.com/newthinker/catalyst/internal/core"
)

// Provider is the upstream contract. Implementations may return empty results
// for valid tickers and may be rate limited; the Adapter tolerates both.
type Provider interface {
	// Name identifies the provider in logs
	Name() string

	// FetchHistory returns daily bars between start and end, inclusive
	FetchHistory(ctx context.Context, ticker string, start, end time.Time) ([]core.PriceBar, error)

	// FetchExpiries returns the currently listed option expiries
	FetchExpiries(ctx context.Context, ticker string) ([]time.Time, error)

	// FetchChain returns the option chain currently listed for expiry
	FetchChain(ctx context.Context, ticker string, expiry time.Time) (core.OptionChain, error)

	// FetchEarnings returns up to limit earnings announcement dates, past and upcoming, in any order
	FetchEarnings(ctx context.Context, ticker string, limit int) ([]time.Time, error)
}
