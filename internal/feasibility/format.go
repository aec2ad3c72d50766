package feasibility

import (
	"math"
	"strconv"

	"github.com/montanaflynn/stats"
)

// FormatNumber abbreviates large counts: 1500000 -> "1.5M", 2000 -> "2.0K".
// Smaller values render as integers rounded half up, so 0.5 becomes "1" and
// -0.5 becomes "0".
func FormatNumber(n float64) string {
	switch {
	case n >= 1_000_000:
		return strconv.FormatFloat(round(n/1_000_000, 1), 'f', 1, 64) + "M"
	case n >= 1_000:
		return strconv.FormatFloat(round(n/1_000, 1), 'f', 1, 64) + "K"
	}
	return strconv.FormatInt(int64(math.Floor(n+0.5)), 10)
}

// FormatPercent renders a percentage with its shortest exact form and a "%"
// suffix.
func FormatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64) + "%"
}

// round wraps stats.Round; its only error is for NaN, which maps to 0.
func round(x float64, places int) float64 {
	r, err := stats.Round(x, places)
	if err != nil {
		return 0
	}
	return r
}

// percent returns 100*num/den rounded to places, or 0 when den is 0.
func percent(num, den int64, places int) float64 {
	if den == 0 {
		return 0
	}
	return round(100*float64(num)/float64(den), places)
}
