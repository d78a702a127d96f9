package scan

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/newthinker/catalyst/internal/core"
	"github.com/newthinker/catalyst/internal/indicator"
)

// Columns is the fixed column order of a snapshot export
var Columns = []string{
	"ticker", "as_of", "close", "atr_pct", "dollar_atr", "atr_pct_z",
	"iv_rank", "iv_rank_change", "front_expiry", "atm_strike", "atm_iv",
	"next_earnings", "days_until", "setup", "pnl_estimate", "dollar_pnl", "error",
}

// Export writes one row per snapshot; NA values are empty cells
func Export(w io.Writer, snapshots []Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, s := range snapshots {
		days := ""
		if s.DaysUntil >= 0 {
			days = strconv.Itoa(s.DaysUntil)
		}
		row := []string{
			s.Ticker,
			date(s.AsOf),
			num(s.Close),
			num(s.ATRPct),
			num(s.DollarATR),
			num(s.ATRPctZ),
			num(s.IVRank),
			num(s.IVRankChange),
			date(s.FrontExpiry),
			num(s.ATMStrike),
			num(s.ATMIV),
			date(s.NextEarnings),
			days,
			string(s.Setup),
			num(s.PnLEstimate),
			num(s.DollarPnL),
			s.Err,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing %s: %w", s.Ticker, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func num(v float64) string {
	if indicator.IsNA(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(core.DateLayout)
}
