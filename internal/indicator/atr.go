package indicator

import (
	"math"

	"github.com/newthinker/catalyst/internal/core"
)

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|).
// Pass NA as prevClose for the first bar of a series.
func TrueRange(bar core.PriceBar, prevClose float64) float64 {
	hl := bar.High - bar.Low
	if IsNA(prevClose) {
		return hl
	}
	return math.Max(hl, math.Max(math.Abs(bar.High-prevClose), math.Abs(bar.Low-prevClose)))
}

// TrueRanges returns the true range of every bar in the series
func TrueRanges(series core.PriceSeries) []float64 {
	out := make([]float64, len(series.Bars))
	prev := NA
	for i, b := range series.Bars {
		out[i] = TrueRange(b, prev)
		prev = b.Close
	}
	return out
}

// ATR returns the simple moving average of true range over window bars.
// The result has the same length as the series; the first window-1 entries are NA.
func ATR(series core.PriceSeries, window int) []float64 {
	n := series.Len()
	if window <= 0 || n < window {
		return naSlice(n)
	}
	return Aligned(SMA(TrueRanges(series), window), n)
}

// ATRPercent expresses an ATR value as a fraction of the close
func ATRPercent(atr, close float64) float64 {
	if IsNA(atr) || IsNA(close) || close == 0 {
		return NA
	}
	return atr / close
}
