package station

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lox/skyscribe/internal/forecast"
	"github.com/lox/skyscribe/internal/metrics"
	"github.com/lox/skyscribe/internal/models"
	"github.com/lox/skyscribe/internal/series"
)

const (
	DefaultInputSteps   = 300
	DefaultHorizonSteps = 250
	DefaultEpochs       = 1
	DefaultBatchSize    = 32
)

// Model is one forecast pipeline registered on a station.
type Model struct {
	ID        string
	CreatedAt time.Time
	pipeline  *forecast.Pipeline
	lastTrain *forecast.TrainReport
}

// ModelInfo describes a model for display.
type ModelInfo struct {
	ID        string                `json:"id"`
	CreatedAt time.Time             `json:"created_at"`
	Config    forecast.Config       `json:"config"`
	Pipeline  forecast.Info         `json:"pipeline"`
	LastTrain *forecast.TrainReport `json:"last_train,omitempty"`
}

func (m *Model) info() ModelInfo {
	return ModelInfo{
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
		Config:    m.pipeline.Config(),
		Pipeline:  m.pipeline.Describe(),
		LastTrain: m.lastTrain,
	}
}

func withModelDefaults(cfg forecast.Config) forecast.Config {
	if cfg.InputSteps == 0 {
		cfg.InputSteps = DefaultInputSteps
	}
	if cfg.HorizonSteps == 0 {
		cfg.HorizonSteps = DefaultHorizonSteps
	}
	return cfg
}

func (s *Station) model(id string) (*Model, error) {
	m, ok := s.models[id]
	if !ok {
		return nil, fmt.Errorf("model %s: %w", id, series.ErrNotFound)
	}
	return m, nil
}

// CreateModel registers a new forecast pipeline. Zero step counts take the
// station defaults.
func (s *Station) CreateModel(cfg forecast.Config) (ModelInfo, error) {
	p, err := forecast.NewPipeline(source{s}, s.info.Fields, withModelDefaults(cfg), nil)
	if err != nil {
		return ModelInfo{}, err
	}
	m := &Model{ID: uuid.NewString(), CreatedAt: time.Now().UTC(), pipeline: p}

	s.modelMu.Lock()
	defer s.modelMu.Unlock()
	s.models[m.ID] = m
	s.order = append(s.order, m.ID)

	s.log.Info().Str("model", m.ID).Int("input_steps", p.Config().InputSteps).
		Int("horizon_steps", p.Config().HorizonSteps).Msg("forecast model created")
	return m.info(), nil
}

// Models lists the station's models in creation order.
func (s *Station) Models() []ModelInfo {
	s.modelMu.Lock()
	defer s.modelMu.Unlock()
	out := make([]ModelInfo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.models[id].info())
	}
	return out
}

func (s *Station) Model(id string) (ModelInfo, error) {
	s.modelMu.Lock()
	defer s.modelMu.Unlock()
	m, err := s.model(id)
	if err != nil {
		return ModelInfo{}, err
	}
	return m.info(), nil
}

func (s *Station) DeleteModel(id string) error {
	s.modelMu.Lock()
	defer s.modelMu.Unlock()
	if _, err := s.model(id); err != nil {
		return err
	}
	delete(s.models, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.log.Info().Str("model", id).Msg("forecast model deleted")
	return nil
}

// UpdateModel changes a model's field sets, discarding anything it learned.
func (s *Station) UpdateModel(id string, input, output []string) (ModelInfo, error) {
	s.modelMu.Lock()
	defer s.modelMu.Unlock()
	m, err := s.model(id)
	if err != nil {
		return ModelInfo{}, err
	}
	if err := m.pipeline.SetFields(input, output); err != nil {
		return ModelInfo{}, err
	}
	m.lastTrain = nil
	return m.info(), nil
}

// TrainModel trains a model on the station's full series. Zero epochs or
// batch size take the defaults.
func (s *Station) TrainModel(ctx context.Context, id string, epochs, batchSize int) (forecast.TrainReport, error) {
	if epochs == 0 {
		epochs = DefaultEpochs
	}
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}

	s.modelMu.Lock()
	defer s.modelMu.Unlock()
	m, err := s.model(id)
	if err != nil {
		return forecast.TrainReport{}, err
	}

	report, err := m.pipeline.Train(ctx, epochs, batchSize)
	if err != nil {
		s.log.Warn().Err(err).Str("model", id).Msg("training failed")
		return forecast.TrainReport{}, err
	}
	m.lastTrain = &report

	metrics.TrainingDuration.WithLabelValues(s.label()).Observe(report.Duration.Seconds())
	s.log.Info().Str("model", id).Int("epochs", report.EpochsRun).Float64("loss", report.Loss).
		Bool("built_only", report.BuiltOnly).Dur("duration", report.Duration).Msg("model trained")
	return report, nil
}

// Predict runs a trained model's forecast.
func (s *Station) Predict(ctx context.Context, id string) ([]models.Sample, error) {
	s.modelMu.Lock()
	defer s.modelMu.Unlock()
	m, err := s.model(id)
	if err != nil {
		return nil, err
	}
	out, err := m.pipeline.Predict(ctx)
	if err != nil {
		return nil, err
	}
	metrics.PredictionsServed.WithLabelValues(s.label()).Add(float64(len(out)))
	return out, nil
}

// OutputFields is the field order of a model's predictions.
func (s *Station) OutputFields(id string) ([]string, error) {
	s.modelMu.Lock()
	defer s.modelMu.Unlock()
	m, err := s.model(id)
	if err != nil {
		return nil, err
	}
	return m.pipeline.OutputColumns(), nil
}
