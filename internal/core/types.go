package core

import (
	"sort"
	"time"
)

// OptionType distinguishes calls from puts
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// PriceBar is one trading day of OHLC data for a ticker.
// Providers do not guarantee High >= Low etc.; consumers treat violations as noise.
type PriceBar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// PriceSeries is an ascending, duplicate-free run of daily bars for one ticker.
// It is replaced on re-fetch and never edited in place.
type PriceSeries struct {
	Ticker string
	Bars   []PriceBar
}

// Len returns the number of bars
func (s PriceSeries) Len() int {
	return len(s.Bars)
}

// Empty reports whether the series has no bars
func (s PriceSeries) Empty() bool {
	return len(s.Bars) == 0
}

// Closes returns the closing prices in series order
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// IndexOf returns the index of the bar dated exactly d, or -1.
func (s PriceSeries) IndexOf(d time.Time) int {
	d = NormalizeDate(d)
	i := sort.Search(len(s.Bars), func(i int) bool {
		return !s.Bars[i].Date.Before(d)
	})
	if i < len(s.Bars) && s.Bars[i].Date.Equal(d) {
		return i
	}
	return -1
}

// Last returns the most recent bar
func (s PriceSeries) Last() (PriceBar, bool) {
	if len(s.Bars) == 0 {
		return PriceBar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// OptionQuote is a single contract in a chain snapshot
type OptionQuote struct {
	Strike     float64
	ImpliedVol float64
	Expiry     time.Time
	Type       OptionType
}

// OptionChain is the set of quotes for one ticker and expiry.
// AsOf records when the provider served it: chains reflect what is listed now,
// not what was listed on historical dates.
type OptionChain struct {
	Ticker string
	Expiry time.Time
	AsOf   time.Time
	Quotes []OptionQuote
}

// Calls returns the call quotes in provider order
func (c OptionChain) Calls() []OptionQuote {
	return c.filter(OptionCall)
}

// Puts returns the put quotes in provider order
func (c OptionChain) Puts() []OptionQuote {
	return c.filter(OptionPut)
}

func (c OptionChain) filter(t OptionType) []OptionQuote {
	var out []OptionQuote
	for _, q := range c.Quotes {
		if q.Type == t {
			out = append(out, q)
		}
	}
	return out
}

// CatalystEvent is a historical earnings announcement used as a backtest anchor
type CatalystEvent struct {
	Ticker string
	Date   time.Time
}

// NormalizeDate strips the time of day, keeping the calendar date in UTC.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateLayout is the calendar date format used in configs and exports
const DateLayout = "2006-01-02"
