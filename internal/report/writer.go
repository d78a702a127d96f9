package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newthinker/catalyst/internal/backtest"
	"github.com/newthinker/catalyst/internal/storage/archive"
)

// Keys written by Writer, relative to its prefix
const (
	TradesFile  = "trades.csv"
	SummaryFile = "summary.csv"
	SkipsFile   = "skips.csv"
	RunFile     = "run.json"
)

// RunInfo describes one written report
type RunInfo struct {
	ID         string         `json:"id"`
	WrittenAt  time.Time      `json:"written_at"`
	Tickers    []string       `json:"tickers"`
	Trades     int            `json:"trades"`
	Skipped    int            `json:"skipped"`
	SkipCounts map[string]int `json:"skip_counts,omitempty"`
	Stats      backtest.Stats `json:"stats"`
}

// Writer bulk-writes a backtest result into archive storage. Every Write
// replaces the previous report under the same prefix.
type Writer struct {
	store  archive.Storage
	prefix string
	logger *zap.Logger
}

// NewWriter creates a Writer; prefix may be empty
func NewWriter(store archive.Storage, prefix string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{store: store, prefix: prefix, logger: logger}
}

// Write exports trades, summary, skips and run metadata. An empty result
// still produces header-only files.
func (w *Writer) Write(ctx context.Context, result *backtest.Result) (*RunInfo, error) {
	info := &RunInfo{
		ID:         uuid.New().String(),
		WrittenAt:  time.Now().UTC(),
		Tickers:    result.Tickers,
		Trades:     len(result.Trades),
		Skipped:    len(result.Skips),
		SkipCounts: result.SkipCounts,
		Stats:      result.Stats,
	}

	var trades, summary, skips bytes.Buffer
	if err := ExportTrades(&trades, result.Trades); err != nil {
		return nil, fmt.Errorf("exporting trades: %w", err)
	}
	if err := ExportSummary(&summary, Summarize(result.Trades)); err != nil {
		return nil, fmt.Errorf("exporting summary: %w", err)
	}
	if err := ExportSkips(&skips, result.Skips); err != nil {
		return nil, fmt.Errorf("exporting skips: %w", err)
	}
	meta, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding run info: %w", err)
	}

	files := []struct {
		name string
		data []byte
	}{
		{TradesFile, trades.Bytes()},
		{SummaryFile, summary.Bytes()},
		{SkipsFile, skips.Bytes()},
		{RunFile, meta},
	}
	for _, f := range files {
		if err := w.store.Put(ctx, w.Key(f.name), f.data); err != nil {
			return nil, fmt.Errorf("writing %s: %w", f.name, err)
		}
	}

	w.logger.Info("report written",
		zap.String("run_id", info.ID),
		zap.String("trades_key", w.Key(TradesFile)),
		zap.Int("trades", info.Trades),
		zap.Int("skipped", info.Skipped),
	)
	return info, nil
}

// Key returns the storage key of a report file
func (w *Writer) Key(name string) string {
	if w.prefix == "" {
		return name
	}
	return w.prefix + "/" + name
}
