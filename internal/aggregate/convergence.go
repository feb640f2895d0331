package aggregate

import (
	"math"
	"sort"
)

// ConvergenceRatio is the IQR-to-median ratio below which a panel of
// estimates counts as converged.
const ConvergenceRatio = 0.15

// Estimate is one worker's numeric answer with a self-reported range.
type Estimate struct {
	Worker string  `json:"worker"`
	Value  float64 `json:"value"`
	Low    float64 `json:"low"`
	High   float64 `json:"high"`
}

// Stats summarizes one estimation round.
type Stats struct {
	N         int     `json:"n"`
	Median    float64 `json:"median"`
	Q1        float64 `json:"q1"`
	Q3        float64 `json:"q3"`
	IQR       float64 `json:"iqr"`
	Converged bool    `json:"converged"`
}

// Convergence computes median and interquartile range over the estimate
// values. Convergence holds when IQR < ConvergenceRatio x |median|; when the
// median is zero the IQR is compared against absFloor instead.
func Convergence(estimates []Estimate, absFloor float64) (*Stats, error) {
	if len(estimates) == 0 {
		return nil, ErrInsufficientQuorum
	}

	values := make([]float64, len(estimates))
	for i, e := range estimates {
		values[i] = e.Value
	}
	sort.Float64s(values)

	n := len(values)
	var median float64
	if n%2 == 1 {
		median = values[n/2]
	} else {
		median = (values[n/2-1] + values[n/2]) / 2
	}

	var q1, q3 float64
	if n < 4 {
		// Too few points for quartiles; use the full spread.
		q1, q3 = values[0], values[n-1]
	} else {
		q1 = values[n/4]
		q3 = values[(3*n)/4]
	}
	iqr := q3 - q1

	s := &Stats{N: n, Median: median, Q1: q1, Q3: q3, IQR: iqr}
	if median == 0 {
		s.Converged = iqr <= absFloor
	} else {
		s.Converged = iqr < ConvergenceRatio*math.Abs(median)
	}
	return s, nil
}
