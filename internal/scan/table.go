package scan

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/newthinker/catalyst/internal/core"
)

// RenderSnapshots prints one row per snapshot; failed rows show the error
func RenderSnapshots(w io.Writer, snapshots []Snapshot) {
	table := tablewriter.NewWriter(w)
	table.Header("Ticker", "Close", "ATR%", "Z", "IV rank", "IV Δ", "ATM", "Earnings", "Days", "Setup", "P/L est")
	for _, s := range snapshots {
		if s.Err != "" {
			table.Append(s.Ticker, "-", "-", "-", "-", "-", "-", "-", "-", "error", s.Err)
			continue
		}
		earnings, days := "-", "-"
		if s.HasEarnings() {
			earnings = s.NextEarnings.Format(core.DateLayout)
			days = strconv.Itoa(s.DaysUntil)
		}
		table.Append(
			s.Ticker,
			dollars(s.Close),
			percent(s.ATRPct),
			signed(s.ATRPctZ),
			percent(s.IVRank),
			signed(s.IVRankChange),
			dollars(s.ATMStrike),
			earnings,
			days,
			string(s.Setup),
			percent(s.PnLEstimate),
		)
	}
	table.Render()
	fmt.Fprintf(w, "%d tickers\n", len(snapshots))
}
