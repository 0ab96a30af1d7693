package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyInputFails(t *testing.T) {
	fns := map[string]func([]float64) (float64, error){
		"mean":   Mean,
		"max":    Max,
		"min":    Min,
		"stddev": PopStdDev,
	}
	for name, fn := range fns {
		t.Run(name, func(t *testing.T) {
			_, err := fn(nil)
			require.ErrorIs(t, err, ErrEmpty)
			_, err = fn([]float64{})
			require.ErrorIs(t, err, ErrEmpty)
		})
	}
}

func TestBasicStatistics(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}

	mean, err := Mean(xs)
	require.NoError(t, err)
	assert.Equal(t, 5.0, mean)

	max, err := Max(xs)
	require.NoError(t, err)
	assert.Equal(t, 9.0, max)

	min, err := Min(xs)
	require.NoError(t, err)
	assert.Equal(t, 2.0, min)

	sd, err := PopStdDev(xs)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, sd, 1e-12)
}

func TestPopStdDevSingleValue(t *testing.T) {
	for _, x := range []float64{0, -3.5, 21.7, 1e10} {
		sd, err := PopStdDev([]float64{x})
		require.NoError(t, err)
		assert.Equal(t, 0.0, sd, "x=%v", x)
	}
}

func TestMeanPropagatesInfinities(t *testing.T) {
	m, err := Mean([]float64{1, math.Inf(1)})
	require.NoError(t, err)
	assert.True(t, math.IsInf(m, 1))

	m, err = Mean([]float64{math.Inf(1), math.Inf(-1)})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(m))
}

func TestPopStdDevOverflow(t *testing.T) {
	tests := []struct {
		name string
		xs   []float64
	}{
		{"positive infinity", []float64{1, math.Inf(1)}},
		{"negative infinity", []float64{math.Inf(-1), 2, 3}},
		{"single infinity", []float64{math.Inf(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PopStdDev(tt.xs)
			assert.ErrorIs(t, err, ErrOverflow)
		})
	}
}

func TestStatisticsNearFloatLimit(t *testing.T) {
	tests := []struct {
		name     string
		xs       []float64
		mean, sd float64
	}{
		{"max pair", []float64{math.MaxFloat64, math.MaxFloat64}, math.MaxFloat64, 0},
		{"negative max pair", []float64{-math.MaxFloat64, -math.MaxFloat64}, -math.MaxFloat64, 0},
		{"squares out of range", []float64{-1e200, 1e200}, 0, 1e200},
		{"sum out of range", []float64{1e308, 1e308, 1e308}, 1e308, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mean, err := Mean(tt.xs)
			require.NoError(t, err)
			assert.InEpsilon(t, nonZero(tt.mean), nonZero(mean), 1e-12)

			sd, err := PopStdDev(tt.xs)
			require.NoError(t, err)
			assert.False(t, math.IsNaN(sd))
			assert.InDelta(t, tt.sd, sd, math.Abs(tt.sd)*1e-12)
		})
	}
}

// nonZero lets InEpsilon compare values that may be exactly zero.
func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

func TestSummarize(t *testing.T) {
	s, err := Summarize([]float64{1, 2, 3})
	require.NoError(t, err)
	require.NotNil(t, s.Mean)
	assert.Equal(t, 2.0, *s.Mean)
	assert.Equal(t, 3.0, *s.Max)
	assert.Equal(t, 1.0, *s.Min)
	assert.InDelta(t, math.Sqrt(2.0/3.0), *s.StdDev, 1e-12)

	s, err = Summarize([]float64{1, math.Inf(1)})
	require.NoError(t, err)
	assert.Nil(t, s.Mean)
	assert.Nil(t, s.StdDev)
	assert.Equal(t, 1.0, *s.Min)

	_, err = Summarize(nil)
	assert.ErrorIs(t, err, ErrEmpty)
}
