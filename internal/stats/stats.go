// Package stats aggregates a single field's values. Every function fails on
// empty input rather than returning a default.
package stats

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrEmpty    = errors.New("stats: empty input")
	ErrOverflow = errors.New("stats: numeric overflow")
)

// Mean propagates IEEE infinities and NaNs: [x, +Inf] is +Inf and
// [+Inf, -Inf] is NaN. Finite input always has a finite mean, even when
// its sum exceeds the float range.
func Mean(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, ErrEmpty
	}
	m := stat.Mean(xs, nil)
	if math.IsInf(m, 0) && finite(xs) {
		scale, scaled := rescale(xs)
		m = scale * stat.Mean(scaled, nil)
	}
	return m, nil
}

func finite(xs []float64) bool {
	for _, x := range xs {
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return false
		}
	}
	return true
}

// rescale divides finite xs by their largest magnitude so sums and squares
// stay in range.
func rescale(xs []float64) (float64, []float64) {
	scale := math.Max(math.Abs(floats.Max(xs)), math.Abs(floats.Min(xs)))
	out := make([]float64, len(xs))
	if scale == 0 {
		return 0, out
	}
	for i, x := range xs {
		out[i] = x / scale
	}
	return scale, out
}

func Max(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, ErrEmpty
	}
	return floats.Max(xs), nil
}

func Min(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, ErrEmpty
	}
	return floats.Min(xs), nil
}

// PopStdDev is the population standard deviation. A single value has
// deviation 0. Infinite input fails with ErrOverflow and NaN input yields
// NaN. Finite input is rescaled when its squared deviations leave the
// float range.
func PopStdDev(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, ErrEmpty
	}
	for _, x := range xs {
		if math.IsInf(x, 0) {
			return 0, ErrOverflow
		}
	}
	if len(xs) == 1 {
		if math.IsNaN(xs[0]) {
			return math.NaN(), nil
		}
		return 0, nil
	}
	sd := math.Sqrt(stat.PopVariance(xs, nil))
	if (math.IsInf(sd, 0) || math.IsNaN(sd)) && finite(xs) {
		scale, scaled := rescale(xs)
		sd = scale * math.Sqrt(stat.PopVariance(scaled, nil))
	}
	if math.IsInf(sd, 0) {
		return 0, ErrOverflow
	}
	return sd, nil
}

// Summary holds the four statistics of one field. A nil entry is undefined
// for the input.
type Summary struct {
	Mean   *float64 `json:"mean"`
	Max    *float64 `json:"max"`
	Min    *float64 `json:"min"`
	StdDev *float64 `json:"stdev"`
}

// Summarize computes all statistics, leaving undefined ones nil. It fails
// only on empty input.
func Summarize(xs []float64) (Summary, error) {
	if len(xs) == 0 {
		return Summary{}, ErrEmpty
	}
	var s Summary
	s.Mean = defined(Mean(xs))
	s.Max = defined(Max(xs))
	s.Min = defined(Min(xs))
	s.StdDev = defined(PopStdDev(xs))
	return s, nil
}

func defined(v float64, err error) *float64 {
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
