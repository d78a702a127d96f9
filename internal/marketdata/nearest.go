package marketdata

import (
	"sort"
	"time"

	"github.com/newthinker/catalyst/internal/core"
)

// Field selects a price column of a bar
type Field string

const (
	FieldOpen  Field = "open"
	FieldHigh  Field = "high"
	FieldLow   Field = "low"
	FieldClose Field = "close"
)

// Value reads the field from a bar
func (f Field) Value(b core.PriceBar) float64 {
	switch f {
	case FieldOpen:
		return b.Open
	case FieldHigh:
		return b.High
	case FieldLow:
		return b.Low
	default:
		return b.Close
	}
}

// NearestIndex resolves target to a bar index: the exact date if present,
// else the latest earlier bar, else the earliest later bar.
// Markets close on weekends and holidays, so most callers need this fallback.
func NearestIndex(series core.PriceSeries, target time.Time) (int, bool) {
	n := series.Len()
	if n == 0 {
		return -1, false
	}
	target = core.NormalizeDate(target)

	// first bar dated after target
	i := sort.Search(n, func(i int) bool {
		return series.Bars[i].Date.After(target)
	})
	if i > 0 {
		return i - 1, true
	}
	return 0, true
}

// NearestValue returns field of the bar NearestIndex resolves to
func NearestValue(series core.PriceSeries, target time.Time, field Field) (float64, bool) {
	i, ok := NearestIndex(series, target)
	if !ok {
		return 0, false
	}
	return field.Value(series.Bars[i]), true
}
