package coord

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Quantile returns the q-quantile of values using linear interpolation
// between closest ranks, h = (n-1)q. gonum's stat.LinInterp interpolates the
// empirical CDF instead and differs on small samples.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return quantileSorted(sorted, q)
}

func quantileSorted(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * q
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	if lo < 0 {
		return sorted[0]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// Summary describes a sample of per-URL seconds.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std"`
	Min    float64 `json:"min"`
	Q25    float64 `json:"q25"`
	Median float64 `json:"median"`
	Q75    float64 `json:"q75"`
	Max    float64 `json:"max"`
}

// Describe computes count, mean, sample standard deviation and quartiles.
// StdDev is NaN for a single value.
func Describe(values []float64) Summary {
	if len(values) == 0 {
		nan := math.NaN()
		return Summary{Mean: nan, StdDev: nan, Min: nan, Q25: nan, Median: nan, Q75: nan, Max: nan}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	std := math.NaN()
	if len(sorted) > 1 {
		std = stat.StdDev(sorted, nil)
	}
	return Summary{
		Count:  len(sorted),
		Mean:   stat.Mean(sorted, nil),
		StdDev: std,
		Min:    floats.Min(sorted),
		Q25:    quantileSorted(sorted, 0.25),
		Median: quantileSorted(sorted, 0.5),
		Q75:    quantileSorted(sorted, 0.75),
		Max:    floats.Max(sorted),
	}
}
