package forecast

import (
	"errors"
	"fmt"
)

var errNotFitted = errors.New("scaler not fitted")

// MinMaxScaler maps each column linearly onto [0, 1] using the column's
// fitted minimum and maximum. A constant column maps to 0.
type MinMaxScaler struct {
	min   []float64
	scale []float64
}

func (s *MinMaxScaler) Fitted() bool { return s.min != nil }

// Fit learns per-column bounds from rows, all of which must have the same
// width.
func (s *MinMaxScaler) Fit(rows [][]float64) error {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return fmt.Errorf("%w: cannot fit scaler on empty table", ErrInvalidConfig)
	}
	n := len(rows[0])
	lo := append([]float64(nil), rows[0]...)
	hi := append([]float64(nil), rows[0]...)
	for i, row := range rows {
		if len(row) != n {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrInvalidConfig, i, len(row), n)
		}
		for j, v := range row {
			lo[j] = min(lo[j], v)
			hi[j] = max(hi[j], v)
		}
	}
	scale := make([]float64, n)
	for j := range scale {
		scale[j] = hi[j] - lo[j]
		if scale[j] == 0 {
			scale[j] = 1
		}
	}
	s.min, s.scale = lo, scale
	return nil
}

// Transform returns a normalized copy of rows.
func (s *MinMaxScaler) Transform(rows [][]float64) ([][]float64, error) {
	return s.apply(rows, s.TransformValue)
}

// InverseTransform maps normalized rows back to original units.
func (s *MinMaxScaler) InverseTransform(rows [][]float64) ([][]float64, error) {
	return s.apply(rows, s.InverseValue)
}

func (s *MinMaxScaler) apply(rows [][]float64, fn func(int, float64) float64) ([][]float64, error) {
	if !s.Fitted() {
		return nil, errNotFitted
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(s.min) {
			return nil, fmt.Errorf("%w: row %d has %d columns, scaler fitted on %d", ErrInvalidConfig, i, len(row), len(s.min))
		}
		out[i] = make([]float64, len(row))
		for j, v := range row {
			out[i][j] = fn(j, v)
		}
	}
	return out, nil
}

// TransformValue normalizes a single value of column j.
func (s *MinMaxScaler) TransformValue(j int, v float64) float64 {
	return (v - s.min[j]) / s.scale[j]
}

// InverseValue denormalizes a single value of column j.
func (s *MinMaxScaler) InverseValue(j int, v float64) float64 {
	return v*s.scale[j] + s.min[j]
}
