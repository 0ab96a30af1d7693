package forecast

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Shape is the (steps, features) shape of a regressor input or output.
type Shape struct {
	Steps    int
	Features int
}

func (s Shape) Size() int { return s.Steps * s.Features }

type FitOptions struct {
	Epochs    int
	BatchSize int
	// Patience stops training after this many epochs without the training
	// loss improving. Zero disables early stopping.
	Patience int
}

type FitReport struct {
	EpochsRun    int
	Loss         float64
	StoppedEarly bool
}

// Regressor maps an input window to a horizon of outputs. Fit never
// modifies the receiver: it returns a trained copy, so a failed fit leaves
// the previous model usable.
type Regressor interface {
	InputShape() Shape
	OutputShape() Shape
	Fit(windows []Window, opts FitOptions) (Regressor, FitReport, error)
	Predict(x [][]float64) ([][]float64, error)
}

// Builder constructs an untrained regressor for the given shapes.
type Builder func(in, out Shape) (Regressor, error)

var ErrShapeMismatch = errors.New("shape mismatch")

// LinearRegressor is a single dense layer over the flattened input window,
// trained by mini-batch gradient descent on squared error.
type LinearRegressor struct {
	in, out      Shape
	learningRate float64
	w            *mat.Dense // in.Size() x out.Size()
	b            []float64
}

const DefaultLearningRate = 0.01

// NewLinearBuilder returns a Builder producing zero-initialised
// LinearRegressors with the given learning rate.
func NewLinearBuilder(learningRate float64) Builder {
	if learningRate <= 0 {
		learningRate = DefaultLearningRate
	}
	return func(in, out Shape) (Regressor, error) {
		if in.Size() <= 0 || out.Size() <= 0 {
			return nil, fmt.Errorf("%w: regressor shape %v -> %v", ErrInvalidConfig, in, out)
		}
		return &LinearRegressor{
			in:           in,
			out:          out,
			learningRate: learningRate,
			w:            mat.NewDense(in.Size(), out.Size(), nil),
			b:            make([]float64, out.Size()),
		}, nil
	}
}

func (r *LinearRegressor) InputShape() Shape  { return r.in }
func (r *LinearRegressor) OutputShape() Shape { return r.out }

func (r *LinearRegressor) clone() *LinearRegressor {
	return &LinearRegressor{
		in:           r.in,
		out:          r.out,
		learningRate: r.learningRate,
		w:            mat.DenseCopyOf(r.w),
		b:            append([]float64(nil), r.b...),
	}
}

func (r *LinearRegressor) Fit(windows []Window, opts FitOptions) (Regressor, FitReport, error) {
	if len(windows) == 0 {
		return nil, FitReport{}, fmt.Errorf("%w: no training windows", ErrInvalidConfig)
	}
	if opts.Epochs <= 0 || opts.BatchSize <= 0 {
		return nil, FitReport{}, fmt.Errorf("%w: epochs and batch size must be positive", ErrInvalidConfig)
	}

	xs := mat.NewDense(len(windows), r.in.Size(), nil)
	ys := mat.NewDense(len(windows), r.out.Size(), nil)
	for i, w := range windows {
		if err := flattenInto(xs.RawRowView(i), w.X, r.in); err != nil {
			return nil, FitReport{}, fmt.Errorf("window %d input: %w", i, err)
		}
		if err := flattenInto(ys.RawRowView(i), w.Y, r.out); err != nil {
			return nil, FitReport{}, fmt.Errorf("window %d target: %w", i, err)
		}
	}

	m := r.clone()
	report := FitReport{Loss: math.Inf(1)}
	best := math.Inf(1)
	stale := 0
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		loss := m.epoch(xs, ys, opts.BatchSize)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return nil, report, fmt.Errorf("training diverged at epoch %d", epoch+1)
		}
		report.EpochsRun = epoch + 1
		report.Loss = loss

		if loss < best {
			best = loss
			stale = 0
			continue
		}
		stale++
		if opts.Patience > 0 && stale >= opts.Patience {
			report.StoppedEarly = true
			break
		}
	}
	return m, report, nil
}

// epoch runs one pass over the rows in order and returns the mean squared
// error seen before each batch update.
func (r *LinearRegressor) epoch(xs, ys *mat.Dense, batchSize int) float64 {
	rows, _ := xs.Dims()
	var total float64
	for lo := 0; lo < rows; lo += batchSize {
		hi := min(lo+batchSize, rows)
		xb := xs.Slice(lo, hi, 0, r.in.Size())
		yb := ys.Slice(lo, hi, 0, r.out.Size())
		n := float64(hi - lo)

		var diff mat.Dense
		diff.Mul(xb, r.w)
		for i := 0; i < hi-lo; i++ {
			row := diff.RawRowView(i)
			for j := range row {
				row[j] += r.b[j]
			}
		}
		diff.Sub(&diff, yb)

		for i := 0; i < hi-lo; i++ {
			for _, d := range diff.RawRowView(i) {
				total += d * d
			}
		}

		var grad mat.Dense
		grad.Mul(xb.T(), &diff)
		grad.Scale(r.learningRate/n, &grad)
		r.w.Sub(r.w, &grad)

		for j := range r.b {
			var g float64
			for i := 0; i < hi-lo; i++ {
				g += diff.At(i, j)
			}
			r.b[j] -= r.learningRate * g / n
		}
	}
	return total / float64(rows*r.out.Size())
}

func (r *LinearRegressor) Predict(x [][]float64) ([][]float64, error) {
	flat := make([]float64, r.in.Size())
	if err := flattenInto(flat, x, r.in); err != nil {
		return nil, err
	}
	var y mat.Dense
	y.Mul(mat.NewDense(1, r.in.Size(), flat), r.w)
	raw := y.RawRowView(0)

	out := make([][]float64, r.out.Steps)
	for s := range out {
		out[s] = make([]float64, r.out.Features)
		for f := range out[s] {
			k := s*r.out.Features + f
			out[s][f] = raw[k] + r.b[k]
		}
	}
	return out, nil
}

func flattenInto(dst []float64, rows [][]float64, shape Shape) error {
	if len(rows) != shape.Steps {
		return fmt.Errorf("%w: got %d steps, want %d", ErrShapeMismatch, len(rows), shape.Steps)
	}
	for i, row := range rows {
		if len(row) != shape.Features {
			return fmt.Errorf("%w: step %d has %d features, want %d", ErrShapeMismatch, i, len(row), shape.Features)
		}
		copy(dst[i*shape.Features:], row)
	}
	return nil
}
