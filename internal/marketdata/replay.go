package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/catalyst/internal/core"
	"github.com/newthinker/catalyst/internal/storage/archive"
)

// ReplayMode controls how Replay treats recorded responses
type ReplayMode string

const (
	// ReplayAuto serves recordings when present and records misses
	ReplayAuto ReplayMode = "auto"
	// ReplayRecord always calls upstream and overwrites recordings
	ReplayRecord ReplayMode = "record"
	// ReplayOnly never calls upstream; a missing recording is an error
	ReplayOnly ReplayMode = "replay"
)

// Replay persists provider responses as JSON in archive storage so a backtest
// can be rerun on byte-identical inputs.
type Replay struct {
	upstream Provider
	store    archive.Storage
	mode     ReplayMode
	logger   *zap.Logger
}

// NewReplay wraps upstream. upstream may be nil in ReplayOnly mode.
func NewReplay(upstream Provider, store archive.Storage, mode ReplayMode, logger *zap.Logger) (*Replay, error) {
	switch mode {
	case ReplayAuto, ReplayRecord, ReplayOnly:
	default:
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown replay mode %q", mode))
	}
	if upstream == nil && mode != ReplayOnly {
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("replay mode %q needs an upstream provider", mode))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replay{upstream: upstream, store: store, mode: mode, logger: logger}, nil
}

func (r *Replay) Name() string {
	if r.upstream == nil {
		return "replay"
	}
	return "replay(" + r.upstream.Name() + ")"
}

func (r *Replay) FetchHistory(ctx context.Context, ticker string, start, end time.Time) ([]core.PriceBar, error) {
	key := fmt.Sprintf("snapshots/%s/history_%s_%s.json", ticker,
		start.Format(core.DateLayout), end.Format(core.DateLayout))
	var out []core.PriceBar
	err := replayed(ctx, r, key, &out, func() ([]core.PriceBar, error) {
		return r.upstream.FetchHistory(ctx, ticker, start, end)
	})
	return out, err
}

func (r *Replay) FetchExpiries(ctx context.Context, ticker string) ([]time.Time, error) {
	key := fmt.Sprintf("snapshots/%s/expiries.json", ticker)
	var out []time.Time
	err := replayed(ctx, r, key, &out, func() ([]time.Time, error) {
		return r.upstream.FetchExpiries(ctx, ticker)
	})
	return out, err
}

func (r *Replay) FetchChain(ctx context.Context, ticker string, expiry time.Time) (core.OptionChain, error) {
	key := fmt.Sprintf("snapshots/%s/chain_%s.json", ticker, expiry.Format(core.DateLayout))
	var out core.OptionChain
	err := replayed(ctx, r, key, &out, func() (core.OptionChain, error) {
		return r.upstream.FetchChain(ctx, ticker, expiry)
	})
	return out, err
}

func (r *Replay) FetchEarnings(ctx context.Context, ticker string, limit int) ([]time.Time, error) {
	key := fmt.Sprintf("snapshots/%s/earnings_%d.json", ticker, limit)
	var out []time.Time
	err := replayed(ctx, r, key, &out, func() ([]time.Time, error) {
		return r.upstream.FetchEarnings(ctx, ticker, limit)
	})
	return out, err
}

func replayed[T any](ctx context.Context, r *Replay, key string, out *T, fetch func() (T, error)) error {
	if r.mode != ReplayRecord {
		data, err := r.store.Get(ctx, key)
		switch {
		case err == nil:
			return json.Unmarshal(data, out)
		case !errors.Is(err, archive.ErrNotFound):
			return fmt.Errorf("reading recording %s: %w", key, err)
		case r.mode == ReplayOnly:
			return fmt.Errorf("no recording for %s: %w", key, err)
		}
	}

	v, err := fetch()
	if err != nil {
		return err
	}
	*out = v

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding recording %s: %w", key, err)
	}
	if err := r.store.Put(ctx, key, data); err != nil {
		// a failed recording must not fail the fetch that already succeeded
		r.logger.Warn("recording provider response failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}
