package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"

	"github.com/newthinker/catalyst/internal/indicator"
)

// RenderSummary prints the per-strategy table and, when any events were
// skipped, a per-ticker skip table.
func RenderSummary(w io.Writer, summaries []StrategySummary, skipCounts map[string]int) {
	table := tablewriter.NewWriter(w)
	table.Header("Strategy", "Trades", "Mean P/L", "Std", "Min", "Max", "Win rate")
	for _, s := range summaries {
		table.Append(
			string(s.Strategy),
			fmt.Sprintf("%d", s.Count),
			pct(s.Mean),
			pct(s.Std),
			pct(s.Min),
			pct(s.Max),
			pct(s.WinRate),
		)
	}
	table.Render()

	if len(skipCounts) == 0 {
		return
	}

	tickers := make([]string, 0, len(skipCounts))
	for t := range skipCounts {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	fmt.Fprintln(w)
	skips := tablewriter.NewWriter(w)
	skips.Header("Ticker", "Skipped events")
	for _, t := range tickers {
		skips.Append(t, fmt.Sprintf("%d", skipCounts[t]))
	}
	skips.Render()
}

func pct(v float64) string {
	if indicator.IsNA(v) {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", v*100)
}
