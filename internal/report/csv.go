package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/newthinker/catalyst/internal/backtest"
	"github.com/newthinker/catalyst/internal/core"
	"github.com/newthinker/catalyst/internal/indicator"
	"github.com/newthinker/catalyst/internal/strategy"
)

// Precision is the number of decimals floats are written with
const Precision = 4

// TradeColumns is the fixed column order of a trade export
var TradeColumns = []string{
	"ticker", "event_date", "entry_date", "exit_date",
	"entry_price", "exit_price", "atr", "atr_pct",
	"entry_iv", "exit_iv", "iv_rank", "strategy", "pnl",
}

// SummaryColumns is the fixed column order of a summary export
var SummaryColumns = []string{"strategy", "count", "mean", "std", "min", "max", "win_rate"}

// ExportTrades writes one row per trade after a header row. NA values are
// written as empty cells.
func ExportTrades(w io.Writer, trades []backtest.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TradeColumns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, t := range trades {
		row := []string{
			t.Ticker,
			formatDate(t.EventDate),
			formatDate(t.EntryDate),
			formatDate(t.ExitDate),
			formatFloat(t.EntryPrice),
			formatFloat(t.ExitPrice),
			formatFloat(t.ATR),
			formatFloat(t.ATRPct),
			formatFloat(t.EntryIV),
			formatFloat(t.ExitIV),
			formatFloat(t.IVRank),
			string(t.Strategy),
			formatFloat(t.PnL),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing %s %s: %w", t.Ticker, formatDate(t.EventDate), err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadTrades parses an ExportTrades file back into trades
func ReadTrades(r io.Reader) ([]backtest.Trade, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(TradeColumns)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	for i, col := range TradeColumns {
		if header[i] != col {
			return nil, fmt.Errorf("column %d is %q, want %q", i, header[i], col)
		}
	}

	trades := []backtest.Trade{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return trades, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		t, err := parseTrade(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		trades = append(trades, t)
	}
}

func parseTrade(rec []string) (backtest.Trade, error) {
	var (
		t    backtest.Trade
		errs []error
	)
	date := func(s string) time.Time {
		d, err := parseDate(s)
		errs = append(errs, err)
		return d
	}
	num := func(s string) float64 {
		v, err := parseFloat(s)
		errs = append(errs, err)
		return v
	}

	t.Ticker = rec[0]
	t.EventDate = date(rec[1])
	t.EntryDate = date(rec[2])
	t.ExitDate = date(rec[3])
	t.EntryPrice = num(rec[4])
	t.ExitPrice = num(rec[5])
	t.ATR = num(rec[6])
	t.ATRPct = num(rec[7])
	t.EntryIV = num(rec[8])
	t.ExitIV = num(rec[9])
	t.IVRank = num(rec[10])
	t.Strategy = strategy.Label(rec[11])
	t.PnL = num(rec[12])

	return t, errors.Join(errs...)
}

// ExportSummary writes one row per strategy summary after a header row
func ExportSummary(w io.Writer, summaries []StrategySummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SummaryColumns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, s := range summaries {
		row := []string{
			string(s.Strategy),
			strconv.Itoa(s.Count),
			formatFloat(s.Mean),
			formatFloat(s.Std),
			formatFloat(s.Min),
			formatFloat(s.Max),
			formatFloat(s.WinRate),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing %s: %w", s.Strategy, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportSkips writes the run's skip log
func ExportSkips(w io.Writer, skips []backtest.Skip) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"ticker", "event_date", "reason"}); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, s := range skips {
		if err := cw.Write([]string{s.Ticker, formatDate(s.EventDate), s.Reason}); err != nil {
			return fmt.Errorf("writing skip for %s: %w", s.Ticker, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	if indicator.IsNA(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', Precision, 64)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return indicator.NA, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return indicator.NA, fmt.Errorf("parsing %q: %w", s, err)
	}
	return v, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(core.DateLayout)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(core.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}
