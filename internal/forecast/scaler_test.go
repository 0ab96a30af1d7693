package forecast

import (
	"errors"
	"math"
	"testing"
)

func TestMinMaxScalerRoundTrip(t *testing.T) {
	data := [][]float64{
		{-4.5, 1013.2, 7},
		{12.25, 1001.9, 7},
		{31.0, 1022.4, 7},
		{0, 995.0, 7},
	}

	var s MinMaxScaler
	if err := s.Fit(data); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	norm, err := s.Transform(data)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	for i, row := range norm {
		for j, v := range row {
			if v < 0 || v > 1 {
				t.Errorf("norm[%d][%d] = %v, outside [0, 1]", i, j, v)
			}
		}
		if row[2] != 0 {
			t.Errorf("constant column normalized to %v, want 0", row[2])
		}
	}

	back, err := s.InverseTransform(norm)
	if err != nil {
		t.Fatalf("InverseTransform: %v", err)
	}
	for i := range data {
		for j := range data[i] {
			if math.Abs(back[i][j]-data[i][j]) > 1e-9 {
				t.Errorf("round trip [%d][%d] = %v, want %v", i, j, back[i][j], data[i][j])
			}
		}
	}

	// Values inside the fitted range also round-trip.
	for _, v := range []float64{-4.5, 3.3, 20, 31} {
		if got := s.InverseValue(0, s.TransformValue(0, v)); math.Abs(got-v) > 1e-9 {
			t.Errorf("value round trip of %v = %v", v, got)
		}
	}
}

func TestMinMaxScalerDoesNotMutateInput(t *testing.T) {
	data := [][]float64{{1}, {3}}
	var s MinMaxScaler
	if err := s.Fit(data); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Transform(data); err != nil {
		t.Fatal(err)
	}
	if data[0][0] != 1 || data[1][0] != 3 {
		t.Errorf("Transform mutated its input: %v", data)
	}
}

func TestMinMaxScalerErrors(t *testing.T) {
	var s MinMaxScaler
	if _, err := s.Transform([][]float64{{1}}); err == nil {
		t.Error("Transform on unfitted scaler succeeded")
	}
	if err := s.Fit(nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Fit(nil) = %v, want ErrInvalidConfig", err)
	}
	if err := s.Fit([][]float64{{1, 2}, {3}}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Fit(ragged) = %v, want ErrInvalidConfig", err)
	}
	if err := s.Fit([][]float64{{1, 2}, {3, 4}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Transform([][]float64{{1}}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Transform(wrong width) = %v, want ErrInvalidConfig", err)
	}
}
