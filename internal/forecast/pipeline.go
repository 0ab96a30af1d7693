package forecast

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lox/skyscribe/internal/models"
)

const (
	DefaultTestFraction = 0.2
	DefaultPatience     = 2
)

// Config fixes what a pipeline learns from and predicts. Nil InputFields or
// OutputFields means every station column.
type Config struct {
	InputFields  []string `json:"input_fields,omitempty"`
	OutputFields []string `json:"output_fields,omitempty"`
	InputSteps   int      `json:"input_steps" validate:"required,min=1"`
	HorizonSteps int      `json:"horizon_steps" validate:"required,min=1"`
	TestFraction float64  `json:"test_fraction,omitempty" validate:"gte=0,lt=1"`
	Patience     int      `json:"patience,omitempty" validate:"gte=0"`
	LearningRate float64  `json:"learning_rate,omitempty" validate:"gte=0"`

	// BuildOnlyOnFirstTrain makes the first Train call construct the
	// regressor without fitting it.
	BuildOnlyOnFirstTrain bool `json:"build_only_on_first_train,omitempty"`
}

func (c Config) withDefaults() Config {
	if c.TestFraction == 0 {
		c.TestFraction = DefaultTestFraction
	}
	if c.Patience == 0 {
		c.Patience = DefaultPatience
	}
	if c.LearningRate == 0 {
		c.LearningRate = DefaultLearningRate
	}
	return c
}

var validate = validator.New()

// Source supplies a station's series in ascending timestamp order. Zero
// bounds mean the whole series.
type Source interface {
	GetRange(ctx context.Context, from, to time.Time, fields []string) ([]models.Sample, error)
}

type State int

const (
	StateConfigured State = iota
	StateDataLoaded
	StateWindowed
	StateBuilt
	StateTrained
)

func (s State) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateDataLoaded:
		return "data-loaded"
	case StateWindowed:
		return "windowed"
	case StateBuilt:
		return "built"
	case StateTrained:
		return "trained"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for st := StateConfigured; st <= StateTrained; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown pipeline state %q", b)
}

type stage int

const (
	stageConfigured stage = iota
	stageLoaded
	stageNormalized
	stageWindowed
)

// Pipeline loads one station's series, normalizes it, windows it and
// trains a Regressor to forecast the output fields. A Pipeline is owned by
// one caller at a time.
type Pipeline struct {
	src     Source
	columns []string
	cfg     Config
	build   Builder

	stage      stage
	timestamps []time.Time
	table      [][]float64
	tableCols  []string

	inCols, outCols     []string
	inScaler, outScaler *MinMaxScaler
	x, y                [][]float64
	train, test         []Window

	model   Regressor
	trained bool
}

// NewPipeline returns a configured pipeline over src. columns is the
// station's field list in natural order. A nil build uses a
// LinearRegressor.
func NewPipeline(src Source, columns []string, cfg Config, build Builder) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	if err := validateConfig(columns, cfg); err != nil {
		return nil, err
	}
	if build == nil {
		build = NewLinearBuilder(cfg.LearningRate)
	}
	return &Pipeline{
		src:     src,
		columns: slices.Clone(columns),
		cfg:     cfg,
		build:   build,
	}, nil
}

func validateConfig(columns []string, cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if len(columns) == 0 {
		return fmt.Errorf("%w: station has no fields", ErrInvalidConfig)
	}
	for _, set := range [][]string{cfg.InputFields, cfg.OutputFields} {
		seen := make(map[string]bool, len(set))
		for _, f := range set {
			if !slices.Contains(columns, f) {
				return fmt.Errorf("%w: unknown field %q", ErrInvalidConfig, f)
			}
			if seen[f] {
				return fmt.Errorf("%w: field %q listed twice", ErrInvalidConfig, f)
			}
			seen[f] = true
		}
	}
	return nil
}

func (p *Pipeline) Config() Config { return p.cfg }

// State reports how far the pipeline has progressed.
func (p *Pipeline) State() State {
	switch {
	case p.stage == stageWindowed && p.model != nil && p.trained:
		return StateTrained
	case p.stage == stageWindowed && p.model != nil:
		return StateBuilt
	case p.stage == stageWindowed:
		return StateWindowed
	case p.stage >= stageLoaded:
		return StateDataLoaded
	}
	return StateConfigured
}

func (p *Pipeline) inputColumns() []string {
	if len(p.cfg.InputFields) > 0 {
		return p.cfg.InputFields
	}
	return p.columns
}

// OutputColumns is the field order of predicted samples: OutputFields when
// set, otherwise the station's natural column order.
func (p *Pipeline) OutputColumns() []string {
	if len(p.cfg.OutputFields) > 0 {
		return slices.Clone(p.cfg.OutputFields)
	}
	return slices.Clone(p.columns)
}

// SetFields changes the input and output field sets. The pipeline returns
// to StateConfigured and discards its data, scalers and regressor. On
// error nothing changes.
func (p *Pipeline) SetFields(input, output []string) error {
	cfg := p.cfg
	cfg.InputFields = slices.Clone(input)
	cfg.OutputFields = slices.Clone(output)
	if err := validateConfig(p.columns, cfg); err != nil {
		return err
	}
	*p = Pipeline{src: p.src, columns: p.columns, cfg: cfg, build: p.build}
	return nil
}

// LoadData pulls the series. When both field sets are given only their
// union is fetched, otherwise every column is.
func (p *Pipeline) LoadData(ctx context.Context) error {
	cols := p.columns
	var projection []string
	if len(p.cfg.InputFields) > 0 && len(p.cfg.OutputFields) > 0 {
		cols = nil
		for _, c := range p.columns {
			if slices.Contains(p.cfg.InputFields, c) || slices.Contains(p.cfg.OutputFields, c) {
				cols = append(cols, c)
			}
		}
		projection = append(slices.Clone(cols), models.TimestampField)
	}

	samples, err := p.src.GetRange(ctx, time.Time{}, time.Time{}, projection)
	if err != nil {
		return fmt.Errorf("load series: %w", err)
	}

	timestamps := make([]time.Time, len(samples))
	table := make([][]float64, len(samples))
	for i, s := range samples {
		row := make([]float64, len(cols))
		for j, c := range cols {
			v, ok := s.Value(c)
			if !ok {
				return fmt.Errorf("%w: field %q missing at %s", ErrInvalidConfig, c, s.Timestamp().Format(models.TimeLayout))
			}
			row[j] = v
		}
		timestamps[i] = s.Timestamp()
		table[i] = row
	}

	p.timestamps, p.table, p.tableCols = timestamps, table, cols
	p.x, p.y, p.train, p.test = nil, nil, nil, nil
	p.inScaler, p.outScaler = nil, nil
	p.stage = stageLoaded
	return nil
}

// Normalize fits independent min-max scalers on the input and output
// columns and keeps both for inverse transforms at prediction time.
func (p *Pipeline) Normalize() error {
	if p.stage < stageLoaded {
		return fmt.Errorf("%w: normalize before load", ErrInvalidConfig)
	}
	if len(p.table) == 0 {
		return fmt.Errorf("%w: no rows loaded", ErrInvalidConfig)
	}

	inCols, outCols := p.inputColumns(), p.OutputColumns()
	x := p.columnsOf(inCols)
	y := p.columnsOf(outCols)

	in, out := &MinMaxScaler{}, &MinMaxScaler{}
	if err := in.Fit(x); err != nil {
		return err
	}
	if err := out.Fit(y); err != nil {
		return err
	}
	xn, err := in.Transform(x)
	if err != nil {
		return err
	}
	yn, err := out.Transform(y)
	if err != nil {
		return err
	}

	p.inCols, p.outCols = slices.Clone(inCols), outCols
	p.inScaler, p.outScaler = in, out
	p.x, p.y = xn, yn
	p.train, p.test = nil, nil
	p.stage = stageNormalized
	return nil
}

func (p *Pipeline) columnsOf(names []string) [][]float64 {
	idx := make([]int, len(names))
	for i, n := range names {
		idx[i] = slices.Index(p.tableCols, n)
	}
	rows := make([][]float64, len(p.table))
	for i, src := range p.table {
		row := make([]float64, len(idx))
		for j, k := range idx {
			row[j] = src[k]
		}
		rows[i] = row
	}
	return rows
}

// BuildWindows splits the normalized rows chronologically, holding out the
// last TestFraction for prediction, and windows each split.
func (p *Pipeline) BuildWindows() error {
	if p.stage < stageNormalized {
		return fmt.Errorf("%w: build windows before normalize", ErrInvalidConfig)
	}
	n := len(p.x)
	nTest := int(math.Ceil(p.cfg.TestFraction * float64(n)))
	cut := n - nTest

	train := BuildWindows(p.x[:cut], p.y[:cut], p.cfg.InputSteps, p.cfg.HorizonSteps)
	if len(train) == 0 {
		return fmt.Errorf("%w: %d training rows cannot fill a %d+%d step window",
			ErrInvalidConfig, cut, p.cfg.InputSteps, p.cfg.HorizonSteps)
	}
	p.train = train
	p.test = BuildWindows(p.x[cut:], p.y[cut:], p.cfg.InputSteps, p.cfg.HorizonSteps)
	p.stage = stageWindowed
	return nil
}

func (p *Pipeline) prepare(ctx context.Context) error {
	if p.stage < stageLoaded {
		if err := p.LoadData(ctx); err != nil {
			return err
		}
	}
	if p.stage < stageNormalized {
		if err := p.Normalize(); err != nil {
			return err
		}
	}
	if p.stage < stageWindowed {
		return p.BuildWindows()
	}
	return nil
}

type TrainReport struct {
	// BuiltOnly is set when the call constructed the regressor without
	// fitting it.
	BuiltOnly    bool          `json:"built_only"`
	TrainWindows int           `json:"train_windows"`
	EpochsRun    int           `json:"epochs_run"`
	Loss         float64       `json:"loss"`
	StoppedEarly bool          `json:"stopped_early"`
	Duration     time.Duration `json:"duration"`
}

// Train fits the regressor on the training windows, running any earlier
// stage that has not happened yet. The first call constructs the
// regressor. A failed call keeps the previous regressor.
func (p *Pipeline) Train(ctx context.Context, epochs, batchSize int) (TrainReport, error) {
	if epochs <= 0 || batchSize <= 0 {
		return TrainReport{}, fmt.Errorf("%w: epochs and batch size must be positive", ErrInvalidConfig)
	}
	if err := p.prepare(ctx); err != nil {
		return TrainReport{}, err
	}

	start := time.Now()
	report := TrainReport{TrainWindows: len(p.train)}

	base := p.model
	if base == nil {
		m, err := p.build(
			Shape{Steps: p.cfg.InputSteps, Features: len(p.inCols)},
			Shape{Steps: p.cfg.HorizonSteps, Features: len(p.outCols)},
		)
		if err != nil {
			return TrainReport{}, fmt.Errorf("build regressor: %w", err)
		}
		if p.cfg.BuildOnlyOnFirstTrain {
			p.model, p.trained = m, false
			report.BuiltOnly = true
			report.Duration = time.Since(start)
			return report, nil
		}
		base = m
	}

	fitted, fit, err := base.Fit(p.train, FitOptions{
		Epochs:    epochs,
		BatchSize: batchSize,
		Patience:  p.cfg.Patience,
	})
	if err != nil {
		return TrainReport{}, fmt.Errorf("fit regressor: %w", err)
	}
	p.model, p.trained = fitted, true

	report.EpochsRun = fit.EpochsRun
	report.Loss = fit.Loss
	report.StoppedEarly = fit.StoppedEarly
	report.Duration = time.Since(start)
	return report, nil
}

// Predict forecasts HorizonSteps future samples, one minute apart, after
// the last loaded timestamp. It starts from the first held-out window and
// feeds each prediction back as the newest input step.
func (p *Pipeline) Predict(ctx context.Context) ([]models.Sample, error) {
	if p.model == nil {
		return nil, ErrNotTrained
	}
	if err := p.prepare(ctx); err != nil {
		return nil, err
	}
	if len(p.test) == 0 {
		return nil, fmt.Errorf("%w: held-out rows cannot fill a %d+%d step window",
			ErrInvalidConfig, p.cfg.InputSteps, p.cfg.HorizonSteps)
	}

	// feedback[j] is the input column fed by output column j, or -1.
	feedback := make([]int, len(p.outCols))
	for j, c := range p.outCols {
		feedback[j] = slices.Index(p.inCols, c)
	}

	window := make([][]float64, len(p.test[0].X))
	for i, row := range p.test[0].X {
		window[i] = slices.Clone(row)
	}

	last := p.timestamps[len(p.timestamps)-1]
	out := make([]models.Sample, 0, p.cfg.HorizonSteps)
	for step := 0; step < p.cfg.HorizonSteps; step++ {
		pred, err := p.model.Predict(window)
		if err != nil {
			return nil, fmt.Errorf("predict step %d: %w", step, err)
		}

		fields := make(map[string]float64, len(p.outCols))
		next := slices.Clone(window[len(window)-1])
		for j, c := range p.outCols {
			v := p.outScaler.InverseValue(j, pred[0][j])
			fields[c] = v
			if k := feedback[j]; k >= 0 {
				next[k] = p.inScaler.TransformValue(k, v)
			}
		}
		out = append(out, models.NewSample(last.Add(time.Duration(step+1)*time.Minute), fields))

		shifted := make([][]float64, 0, len(window))
		shifted = append(shifted, window[1:]...)
		window = append(shifted, next)
	}
	return out, nil
}

// Info is a snapshot of a pipeline for display.
type Info struct {
	State        State    `json:"state"`
	InputFields  []string `json:"input_fields"`
	OutputFields []string `json:"output_fields"`
	InputSteps   int      `json:"input_steps"`
	HorizonSteps int      `json:"horizon_steps"`
	Rows         int      `json:"rows"`
	TrainWindows int      `json:"train_windows"`
	TestWindows  int      `json:"test_windows"`
}

func (p *Pipeline) Describe() Info {
	return Info{
		State:        p.State(),
		InputFields:  slices.Clone(p.inputColumns()),
		OutputFields: p.OutputColumns(),
		InputSteps:   p.cfg.InputSteps,
		HorizonSteps: p.cfg.HorizonSteps,
		Rows:         len(p.table),
		TrainWindows: len(p.train),
		TestWindows:  len(p.test),
	}
}
