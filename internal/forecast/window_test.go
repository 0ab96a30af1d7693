package forecast

import "testing"

func rows(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = []float64{float64(i), float64(i * 10)}
	}
	return out
}

func TestBuildWindowsCount(t *testing.T) {
	tests := []struct {
		name    string
		rows    int
		input   int
		horizon int
		want    int
	}{
		{"exact fit", 5, 3, 2, 1},
		{"seven rows", 7, 3, 2, 3},
		{"too few rows", 4, 3, 2, 0},
		{"empty", 0, 3, 2, 0},
		{"zero input steps", 7, 0, 2, 0},
		{"zero horizon", 7, 3, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := rows(tt.rows)
			got := BuildWindows(x, x, tt.input, tt.horizon)
			if len(got) != tt.want {
				t.Errorf("BuildWindows(%d rows, %d, %d) = %d windows, want %d", tt.rows, tt.input, tt.horizon, len(got), tt.want)
			}
		})
	}
}

func TestBuildWindowsContents(t *testing.T) {
	x := rows(7)
	y := make([][]float64, 7)
	for i := range y {
		y[i] = []float64{float64(100 + i)}
	}

	windows := BuildWindows(x, y, 3, 2)
	if len(windows) != 3 {
		t.Fatalf("got %d windows, want 3", len(windows))
	}

	check := func(idx int, wantX, wantY []float64) {
		t.Helper()
		w := windows[idx]
		if len(w.X) != len(wantX) || len(w.Y) != len(wantY) {
			t.Fatalf("window %d shape = (%d, %d), want (%d, %d)", idx, len(w.X), len(w.Y), len(wantX), len(wantY))
		}
		for i, v := range wantX {
			if w.X[i][0] != v {
				t.Errorf("window %d X[%d] = %v, want %v", idx, i, w.X[i][0], v)
			}
		}
		for i, v := range wantY {
			if w.Y[i][0] != v {
				t.Errorf("window %d Y[%d] = %v, want %v", idx, i, w.Y[i][0], v)
			}
		}
	}

	check(0, []float64{0, 1, 2}, []float64{103, 104})
	check(1, []float64{1, 2, 3}, []float64{104, 105})
	check(2, []float64{2, 3, 4}, []float64{105, 106})
}

func TestBuildWindowsViewsCannotGrow(t *testing.T) {
	x := rows(6)
	windows := BuildWindows(x, x, 2, 1)
	w := append(windows[0].X, []float64{-1, -1})
	if x[2][0] != 2 {
		t.Errorf("appending to a window overwrote the source table: x[2] = %v", x[2])
	}
	if len(w) != 3 {
		t.Errorf("len = %d, want 3", len(w))
	}
}
