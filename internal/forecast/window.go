package forecast

// Window is one supervised example: InputSteps consecutive feature rows and
// the HorizonSteps target rows that follow them. Both are views over the
// tables the window was built from.
type Window struct {
	X [][]float64
	Y [][]float64
}

// BuildWindows slides over x and y (same row count, chronological order)
// and emits every window in order, oldest first. Fewer than
// inputSteps+horizonSteps rows yields no windows.
func BuildWindows(x, y [][]float64, inputSteps, horizonSteps int) []Window {
	if inputSteps <= 0 || horizonSteps <= 0 {
		return nil
	}
	n := min(len(x), len(y)) - inputSteps - horizonSteps + 1
	if n <= 0 {
		return nil
	}
	windows := make([]Window, n)
	for i := range windows {
		windows[i] = Window{
			X: x[i : i+inputSteps : i+inputSteps],
			Y: y[i+inputSteps : i+inputSteps+horizonSteps : i+inputSteps+horizonSteps],
		}
	}
	return windows
}
