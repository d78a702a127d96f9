package scan

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/newthinker/catalyst/internal/core"
	"github.com/newthinker/catalyst/internal/indicator"
	"github.com/newthinker/catalyst/internal/notifier"
	"github.com/newthinker/catalyst/internal/strategy"
)

// Rule decides which snapshots become alerts
type Rule struct {
	MaxDaysUntil int      `mapstructure:"max_days_until"`
	Setups       []string `mapstructure:"setups"` // empty means any defined setup
}

// DefaultRule alerts on any setup with earnings within 30 days
func DefaultRule() Rule {
	return Rule{MaxDaysUntil: 30}
}

// Matches reports whether s should be alerted on
func (r Rule) Matches(s Snapshot) bool {
	if s.Err != "" || s.Setup == strategy.NotAvailable || !s.HasEarnings() {
		return false
	}
	if s.DaysUntil < 0 || s.DaysUntil > r.MaxDaysUntil {
		return false
	}
	if len(r.Setups) == 0 {
		return true
	}
	for _, setup := range r.Setups {
		if strings.EqualFold(setup, string(s.Setup)) {
			return true
		}
	}
	return false
}

// Alerts selects the snapshots matching rule, soonest earnings first
func Alerts(snapshots []Snapshot, rule Rule) []Snapshot {
	var out []Snapshot
	for _, s := range snapshots {
		if rule.Matches(s) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DaysUntil < out[j].DaysUntil })
	return out
}

// FormatAlert renders a snapshot as a chat message
func FormatAlert(s Snapshot) notifier.Message {
	earnings := s.NextEarnings.Format(core.DateLayout)
	text := fmt.Sprintf("📈 `%s` — %s | Earnings: %s (in %dd)\n"+
		"ATR%%: %s | IV Δ: %s | Z: %s | %s Range\n"+
		"ATM: %s | 💵 P/L est: %s (%s)",
		s.Ticker, s.Setup, earnings, s.DaysUntil,
		percent(s.ATRPct), signed(s.IVRankChange), signed(s.ATRPctZ), dollars(s.DollarATR),
		dollars(s.ATMStrike), percent(s.PnLEstimate), dollars(s.DollarPnL),
	)

	return notifier.Message{
		Kind:   "alert",
		Ticker: s.Ticker,
		Key:    AlertKey(s),
		Title:  fmt.Sprintf("%s %s ahead of earnings", s.Ticker, s.Setup),
		Text:   text,
		Fields: map[string]any{
			"setup":          string(s.Setup),
			"next_earnings":  earnings,
			"days_until":     s.DaysUntil,
			"close":          jsonFloat(s.Close),
			"atr_pct":        jsonFloat(s.ATRPct),
			"dollar_atr":     jsonFloat(s.DollarATR),
			"atr_pct_z":      jsonFloat(s.ATRPctZ),
			"iv_rank":        jsonFloat(s.IVRank),
			"iv_rank_change": jsonFloat(s.IVRankChange),
			"atm_strike":     jsonFloat(s.ATMStrike),
			"pnl_estimate":   jsonFloat(s.PnLEstimate),
		},
		SentAt: time.Now(),
	}
}

// AlertKey identifies one setup ahead of one earnings date
func AlertKey(s Snapshot) string {
	return s.Ticker + "|" + string(s.Setup) + "|" + s.NextEarnings.Format(core.DateLayout)
}

// jsonFloat maps NA to nil; encoding/json rejects NaN
func jsonFloat(v float64) any {
	if indicator.IsNA(v) {
		return nil
	}
	return v
}

func percent(v float64) string {
	if indicator.IsNA(v) {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", v*100)
}

func signed(v float64) string {
	if indicator.IsNA(v) {
		return "N/A"
	}
	return fmt.Sprintf("%+.2f", v)
}

func dollars(v float64) string {
	if indicator.IsNA(v) {
		return "N/A"
	}
	return fmt.Sprintf("$%.2f", v)
}
