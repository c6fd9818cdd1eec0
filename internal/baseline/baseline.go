// Package baseline computes the summary statistics used for behavioral
// baselines. Standard deviation is the population (biased) estimator: it is
// stable for the small sample counts typical of per-user typing data.
package baseline

import (
	"math"

	"github.com/montanaflynn/stats"
)

// Summary is the mean and population standard deviation of a sample set.
type Summary struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	N    int     `json:"n"`
}

// Summarize returns the summary of xs, ignoring NaN and infinite values.
// ok is false when no usable value remains.
func Summarize(xs []float64) (Summary, bool) {
	clean := make(stats.Float64Data, 0, len(xs))
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		clean = append(clean, x)
	}
	if len(clean) == 0 {
		return Summary{}, false
	}

	mean, err := stats.Mean(clean)
	if err != nil {
		return Summary{}, false
	}
	std, err := stats.StandardDeviationPopulation(clean)
	if err != nil {
		return Summary{}, false
	}
	return Summary{Mean: mean, Std: std, N: len(clean)}, true
}
