package marketdata

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/newthinker/catalyst/internal/core"
)

// Fixture is the canned data for one ticker
type Fixture struct {
	Bars     []core.PriceBar
	Expiries []time.Time
	Chains   map[string]core.OptionChain // keyed by expiry in core.DateLayout
	Earnings []time.Time
}

// Memory is an in-process Provider serving fixtures. It backs tests and
// offline runs, and counts calls so caching can be observed.
type Memory struct {
	mu       sync.RWMutex
	fixtures map[string]Fixture
	errs     map[string]error // keyed by op
	delay    time.Duration

	calls atomic.Int64
}

// NewMemory creates an empty Memory provider
func NewMemory() *Memory {
	return &Memory{
		fixtures: make(map[string]Fixture),
		errs:     make(map[string]error),
	}
}

func (m *Memory) Name() string { return "memory" }

// Set installs the fixture for ticker
func (m *Memory) Set(ticker string, f Fixture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixtures[ticker] = f
}

// FailOn makes every call of op ("history", "expiries", "chain", "earnings") return err
func (m *Memory) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[op] = err
}

// SetDelay makes every call block for d or until the context ends
func (m *Memory) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns how many fetches have been served
func (m *Memory) Calls() int {
	return int(m.calls.Load())
}

func (m *Memory) begin(ctx context.Context, op, ticker string) (Fixture, error) {
	m.calls.Add(1)

	m.mu.RLock()
	f := m.fixtures[ticker]
	err := m.errs[op]
	delay := m.delay
	m.mu.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Fixture{}, ctx.Err()
		}
	}
	return f, err
}

func (m *Memory) FetchHistory(ctx context.Context, ticker string, start, end time.Time) ([]core.PriceBar, error) {
	f, err := m.begin(ctx, "history", ticker)
	if err != nil {
		return nil, err
	}
	var out []core.PriceBar
	for _, b := range f.Bars {
		if b.Date.Before(start) || b.Date.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *Memory) FetchExpiries(ctx context.Context, ticker string) ([]time.Time, error) {
	f, err := m.begin(ctx, "expiries", ticker)
	if err != nil {
		return nil, err
	}
	return append([]time.Time(nil), f.Expiries...), nil
}

func (m *Memory) FetchChain(ctx context.Context, ticker string, expiry time.Time) (core.OptionChain, error) {
	f, err := m.begin(ctx, "chain", ticker)
	if err != nil {
		return core.OptionChain{}, err
	}
	return f.Chains[core.NormalizeDate(expiry).Format(core.DateLayout)], nil
}

func (m *Memory) FetchEarnings(ctx context.Context, ticker string, limit int) ([]time.Time, error) {
	f, err := m.begin(ctx, "earnings", ticker)
	if err != nil {
		return nil, err
	}
	return append([]time.Time(nil), f.Earnings...), nil
}
