package indicator

import "math"

// TradingDaysPerYear annualizes daily volatility
const TradingDaysPerYear = 252

// IVRank places current within the [min, max] range of history, in [0,1].
// A flat history (min == max) carries no signal and ranks 0.5.
func IVRank(current float64, history []float64) float64 {
	if IsNA(current) {
		return NA
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range history {
		if IsNA(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 1) {
		return NA
	}
	if hi == lo {
		return 0.5
	}
	rank := (current - lo) / (hi - lo)
	return math.Min(1, math.Max(0, rank))
}

// Returns computes simple daily returns; out[0] is NA.
func Returns(closes []float64) []float64 {
	out := naSlice(len(closes))
	for i := 1; i < len(closes); i++ {
		if closes[i-1] != 0 {
			out[i] = closes[i]/closes[i-1] - 1
		}
	}
	return out
}

// RealizedVol is the annualized rolling sample stdev of daily returns,
// aligned with closes. Used as an implied volatility proxy where no chain history exists.
func RealizedVol(closes []float64, window int) []float64 {
	out := naSlice(len(closes))
	if window < 2 {
		return out
	}
	rets := Returns(closes)
	for i := window; i < len(rets); i++ {
		sd := stdev(rets[i-window+1 : i+1])
		if !IsNA(sd) {
			out[i] = sd * math.Sqrt(TradingDaysPerYear)
		}
	}
	return out
}

// ZScore compares the last defined value against the mean and sample stdev of the
// trailing lookback defined values (including itself). Zero stdev yields 0.
func ZScore(values []float64, lookback int) float64 {
	defined := make([]float64, 0, len(values))
	for _, v := range values {
		if !IsNA(v) {
			defined = append(defined, v)
		}
	}
	if lookback < 2 || len(defined) < lookback {
		return NA
	}
	recent := defined[len(defined)-lookback:]
	mean := Mean(recent)
	sd := stdev(recent)
	if IsNA(sd) || sd == 0 {
		return 0
	}
	return (recent[len(recent)-1] - mean) / sd
}

// Mean of values; NA for an empty slice
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return NA
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Stdev is the sample standard deviation; NA with fewer than two values.
func Stdev(values []float64) float64 {
	return stdev(values)
}

func stdev(values []float64) float64 {
	if len(values) < 2 {
		return NA
	}
	mean := Mean(values)
	var variance float64
	for _, v := range values {
		if IsNA(v) {
			return NA
		}
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)-1))
}
