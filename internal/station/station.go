// Package station ties a station's metadata to its sample series and its
// forecast models.
package station

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lox/skyscribe/internal/forecast"
	"github.com/lox/skyscribe/internal/logging"
	"github.com/lox/skyscribe/internal/models"
	"github.com/lox/skyscribe/internal/series"
	"github.com/lox/skyscribe/internal/stats"
)

// ErrUnknownField is returned when a sample or statistic names a field the
// station does not record.
var ErrUnknownField = errors.New("unknown field")

// Station is a live station: its metadata, its series repository and its
// forecast models. It is safe for concurrent use; series access and model
// operations are serialized by separate locks.
type Station struct {
	info models.Station
	log  zerolog.Logger

	dataMu sync.Mutex
	repo   *series.Repository

	modelMu sync.Mutex
	models  map[string]*Model
	order   []string
}

// Open loads the series bounds of coll and returns the station.
func Open(ctx context.Context, info models.Station, coll series.Collection) (*Station, error) {
	repo, err := series.NewRepository(ctx, coll)
	if err != nil {
		return nil, fmt.Errorf("open series for station %d: %w", info.ID, err)
	}
	return &Station{
		info:   info,
		log:    logging.With("station").With().Int64("station", info.ID).Logger(),
		repo:   repo,
		models: make(map[string]*Model),
	}, nil
}

func (s *Station) Info() models.Station { return s.info }

func (s *Station) ID() int64 { return s.info.ID }

func (s *Station) label() string { return strconv.FormatInt(s.info.ID, 10) }

func (s *Station) String() string { return s.info.String() }

func (s *Station) checkFields(names []string) error {
	for _, n := range names {
		if n == models.TimestampField {
			continue
		}
		if !s.info.HasField(n) {
			return fmt.Errorf("%w %q for station %d", ErrUnknownField, n, s.info.ID)
		}
	}
	return nil
}

// NewSample builds a sample at ts with every known field, using 0 for the
// ones values does not mention.
func (s *Station) NewSample(ts time.Time, values map[string]float64) (models.Sample, error) {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	if err := s.checkFields(names); err != nil {
		return models.Sample{}, err
	}
	fields := make(map[string]float64, len(s.info.Fields))
	for _, f := range s.info.Fields {
		fields[f] = values[f]
	}
	return models.NewSample(ts, fields), nil
}

// AddSample inserts a new sample at ts. It fails with series.ErrDuplicate
// when the minute is already recorded.
func (s *Station) AddSample(ctx context.Context, ts time.Time, values map[string]float64) (models.Sample, error) {
	sample, err := s.NewSample(ts, values)
	if err != nil {
		return models.Sample{}, err
	}
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	if err := s.repo.Insert(ctx, sample); err != nil {
		return models.Sample{}, err
	}
	return sample, nil
}

// ReplaceSample overwrites the sample at ts, defaulting absent fields to 0.
func (s *Station) ReplaceSample(ctx context.Context, ts time.Time, values map[string]float64) (models.Sample, error) {
	sample, err := s.NewSample(ts, values)
	if err != nil {
		return models.Sample{}, err
	}
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	if err := s.repo.Replace(ctx, sample); err != nil {
		return models.Sample{}, err
	}
	return sample, nil
}

// UpdateSample sets fields of the sample at ts and, when moveTo is given,
// re-keys it. A "ts" entry in values is ignored. A taken moveTo fails with
// ErrDuplicate before anything is written, and the field changes are
// stored with a single replace.
func (s *Station) UpdateSample(ctx context.Context, ts time.Time, values map[string]float64, moveTo *time.Time) (models.Sample, error) {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	if err := s.checkFields(names); err != nil {
		return models.Sample{}, err
	}

	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	current, err := s.repo.Get(ctx, ts, nil)
	if err != nil {
		return models.Sample{}, err
	}
	var target time.Time
	if moveTo != nil {
		target = models.TruncateTimestamp(*moveTo)
		if target.Equal(current.Timestamp()) {
			moveTo = nil
		} else if _, err := s.repo.Get(ctx, target, nil); err == nil {
			return models.Sample{}, fmt.Errorf("sample at %s: %w", target.Format(models.TimeLayout), series.ErrDuplicate)
		} else if !errors.Is(err, series.ErrNotFound) {
			return models.Sample{}, err
		}
	}

	updated := current
	for _, name := range names {
		if name != models.TimestampField {
			updated = updated.With(name, values[name])
		}
	}
	if !updated.Equal(current) {
		if err := s.repo.Replace(ctx, updated); err != nil {
			return models.Sample{}, err
		}
	}
	if moveTo == nil {
		return updated, nil
	}
	if err := s.repo.UpdateField(ctx, current.Timestamp(), series.SetTimestamp(target)); err != nil {
		return models.Sample{}, err
	}
	return updated.WithTimestamp(target), nil
}

func (s *Station) DeleteSample(ctx context.Context, ts time.Time) error {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	return s.repo.Delete(ctx, ts)
}

func (s *Station) Sample(ctx context.Context, ts time.Time, fields []string) (models.Sample, error) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	return s.repo.Get(ctx, ts, fields)
}

// Samples returns the samples in [from, to]; zero bounds are open.
func (s *Station) Samples(ctx context.Context, from, to time.Time, fields []string) ([]models.Sample, error) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	return s.repo.GetRange(ctx, from, to, fields)
}

func (s *Station) Filtered(ctx context.Context, f series.Filter, fields []string) ([]models.Sample, error) {
	if err := s.checkFields(f.Fields()); err != nil {
		return nil, fmt.Errorf("%w: %v", series.ErrMalformedQuery, err)
	}
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	return s.repo.GetFiltered(ctx, f, fields)
}

// errNoBounds matches both ErrEmptySeries and ErrNotFound.
var errNoBounds = fmt.Errorf("%w: %w", series.ErrEmptySeries, series.ErrNotFound)

// First is the earliest recorded timestamp.
func (s *Station) First() (time.Time, error) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	ts, ok := s.repo.Start()
	if !ok {
		return time.Time{}, errNoBounds
	}
	return ts, nil
}

// Last is the latest recorded timestamp.
func (s *Station) Last() (time.Time, error) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	ts, ok := s.repo.End()
	if !ok {
		return time.Time{}, errNoBounds
	}
	return ts, nil
}

// StatKind names one statistic.
type StatKind string

const (
	StatMean StatKind = "mean"
	StatMax  StatKind = "max"
	StatMin  StatKind = "min"
	StatStd  StatKind = "std"
)

var ErrUnknownStat = errors.New("unknown statistic")

// ParseStatKind accepts the statistic names case-insensitively; "stdev" is
// an alias of std.
func ParseStatKind(s string) (StatKind, error) {
	switch k := StatKind(strings.ToLower(strings.TrimSpace(s))); k {
	case StatMean, StatMax, StatMin, StatStd:
		return k, nil
	case "stdev":
		return StatStd, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownStat, s)
}

func (s *Station) values(ctx context.Context, field string, from, to time.Time) ([]float64, error) {
	if err := s.checkFields([]string{field}); err != nil {
		return nil, err
	}
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	values, err := s.repo.FieldValues(ctx, field, from, to)
	if errors.Is(err, series.ErrNotFound) {
		// No samples means no statistic, not a missing resource.
		return nil, fmt.Errorf("%s over empty range: %w", field, stats.ErrEmpty)
	}
	return values, err
}

// Stat computes one statistic of field over [from, to].
func (s *Station) Stat(ctx context.Context, kind StatKind, field string, from, to time.Time) (float64, error) {
	values, err := s.values(ctx, field, from, to)
	if err != nil {
		return 0, err
	}
	switch kind {
	case StatMean:
		return stats.Mean(values)
	case StatMax:
		return stats.Max(values)
	case StatMin:
		return stats.Min(values)
	case StatStd:
		return stats.PopStdDev(values)
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownStat, kind)
}

func (s *Station) Mean(ctx context.Context, field string, from, to time.Time) (float64, error) {
	return s.Stat(ctx, StatMean, field, from, to)
}

func (s *Station) Max(ctx context.Context, field string, from, to time.Time) (float64, error) {
	return s.Stat(ctx, StatMax, field, from, to)
}

func (s *Station) Min(ctx context.Context, field string, from, to time.Time) (float64, error) {
	return s.Stat(ctx, StatMin, field, from, to)
}

func (s *Station) StdDev(ctx context.Context, field string, from, to time.Time) (float64, error) {
	return s.Stat(ctx, StatStd, field, from, to)
}

// Summaries computes every statistic of every known field over [from, to].
func (s *Station) Summaries(ctx context.Context, from, to time.Time) (map[string]stats.Summary, error) {
	out := make(map[string]stats.Summary, len(s.info.Fields))
	for _, f := range s.info.Fields {
		values, err := s.values(ctx, f, from, to)
		if err != nil {
			return nil, err
		}
		sum, err := stats.Summarize(values)
		if err != nil {
			return nil, err
		}
		out[f] = sum
	}
	return out, nil
}

// source adapts the station's repository to forecast.Source under the data
// lock.
type source struct{ s *Station }

var _ forecast.Source = source{}

func (src source) GetRange(ctx context.Context, from, to time.Time, fields []string) ([]models.Sample, error) {
	return src.s.Samples(ctx, from, to, fields)
}
