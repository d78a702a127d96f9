package indicator

// SMA calculates Simple Moving Average
// Returns slice of length: len(prices) - period + 1
func SMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return []float64{}
	}

	result := make([]float64, 0, len(prices)-period+1)

	var sum float64
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	result = append(result, sum/float64(period))

	for i := period; i < len(prices); i++ {
		sum = sum - prices[i-period] + prices[i]
		result = append(result, sum/float64(period))
	}

	return result
}

// Aligned pads a windowed result (as returned by SMA) with leading NA so that
// out[i] corresponds to input index i.
func Aligned(windowed []float64, n int) []float64 {
	out := naSlice(n)
	copy(out[n-len(windowed):], windowed)
	return out
}
