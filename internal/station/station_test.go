package station

import (
	"context"
	"database/sql"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lox/skyscribe/internal/forecast"
	"github.com/lox/skyscribe/internal/models"
	"github.com/lox/skyscribe/internal/series"
	"github.com/lox/skyscribe/internal/stats"
	"github.com/lox/skyscribe/internal/store"
)

func setupRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	require.NoError(t, s.Migrate())
	require.NoError(t, s.UpsertStation(models.Station{ID: 1, Location: "Lugano", Fields: models.DefaultFields}))
	require.NoError(t, s.UpsertStation(models.Station{ID: 2, Location: "Bellinzona", Fields: []string{"temp_c", "humidity"}}))
	return NewRegistry(s), s
}

func openStation(t *testing.T, id int64) *Station {
	t.Helper()
	reg, _ := setupRegistry(t)
	st, err := reg.Get(context.Background(), id)
	require.NoError(t, err)
	return st
}

var t0 = time.Date(2023, 11, 12, 18, 2, 0, 0, time.UTC)

func seedMinutes(t *testing.T, st *Station, n int) {
	t.Helper()
	for i := range n {
		_, err := st.AddSample(context.Background(), t0.Add(time.Duration(i)*time.Minute), map[string]float64{
			"temp_c":   10 + 4*math.Sin(float64(i)/8),
			"humidity": 70 - float64(i%20),
		})
		require.NoError(t, err)
	}
}

func TestRegistryLoadOnMiss(t *testing.T) {
	ctx := context.Background()
	reg, _ := setupRegistry(t)
	assert.Equal(t, 0, reg.Len())

	a, err := reg.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Lugano", a.Info().Location)
	assert.Equal(t, 1, reg.Len())

	b, err := reg.Get(ctx, 1)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = reg.Get(ctx, 42)
	assert.ErrorIs(t, err, series.ErrNotFound)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryFind(t *testing.T) {
	ctx := context.Background()
	reg, _ := setupRegistry(t)

	byID, err := reg.Find(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), byID.ID())

	byName, err := reg.Find(ctx, "bellinzona")
	require.NoError(t, err)
	assert.Same(t, byID, byName)

	_, err = reg.Find(ctx, "Atlantis")
	assert.ErrorIs(t, err, series.ErrNotFound)
}

func TestRegistryInvalidate(t *testing.T) {
	ctx := context.Background()
	reg, s := setupRegistry(t)

	before, err := reg.Get(ctx, 2)
	require.NoError(t, err)

	require.NoError(t, s.UpsertStation(models.Station{ID: 2, Location: "Bellinzona", Fields: []string{"temp_c"}}))
	cached, err := reg.Get(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, cached.Info().Fields, 2)

	reg.Invalidate(2)
	assert.Equal(t, 0, reg.Len())

	after, err := reg.Get(ctx, 2)
	require.NoError(t, err)
	assert.NotSame(t, before, after)
	assert.Equal(t, []string{"temp_c"}, after.Info().Fields)
}

func TestAddSampleDefaults(t *testing.T) {
	ctx := context.Background()
	st := openStation(t, 1)

	s, err := st.AddSample(ctx, t0, map[string]float64{"temp_c": 3.5})
	require.NoError(t, err)
	assert.Len(t, s.Names(), len(models.DefaultFields))
	v, _ := s.Value("temp_c")
	assert.Equal(t, 3.5, v)
	v, ok := s.Value("mA_solar")
	assert.True(t, ok)
	assert.Zero(t, v)

	stored, err := st.Sample(ctx, t0, nil)
	require.NoError(t, err)
	assert.True(t, stored.Equal(s))

	_, err = st.AddSample(ctx, t0, map[string]float64{"temp_c": 1})
	assert.ErrorIs(t, err, series.ErrDuplicate)

	_, err = st.AddSample(ctx, t0.Add(time.Minute), map[string]float64{"snow_cm": 1})
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestSampleLifecycle(t *testing.T) {
	ctx := context.Background()
	st := openStation(t, 2)
	seedMinutes(t, st, 3)

	first, err := st.First()
	require.NoError(t, err)
	assert.Equal(t, t0, first)

	updated, err := st.UpdateSample(ctx, t0, map[string]float64{"humidity": 12, "ts": 0}, nil)
	require.NoError(t, err)
	assert.True(t, updated.Timestamp().Equal(t0))
	s, err := st.Sample(ctx, t0, []string{"humidity"})
	require.NoError(t, err)
	v, _ := s.Value("humidity")
	assert.Equal(t, 12.0, v)

	replaced, err := st.ReplaceSample(ctx, t0, map[string]float64{"temp_c": -2})
	require.NoError(t, err)
	v, _ = replaced.Value("humidity")
	assert.Zero(t, v)

	earlier := t0.Add(-time.Hour)
	moved, err := st.UpdateSample(ctx, t0, nil, &earlier)
	require.NoError(t, err)
	assert.True(t, moved.Timestamp().Equal(earlier))
	first, err = st.First()
	require.NoError(t, err)
	assert.Equal(t, t0.Add(-time.Hour), first)

	require.NoError(t, st.DeleteSample(ctx, t0.Add(-time.Hour)))
	first, err = st.First()
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Minute), first)

	assert.ErrorIs(t, st.DeleteSample(ctx, t0), series.ErrNotFound)
	_, err = st.UpdateSample(ctx, t0.Add(time.Minute), map[string]float64{"rain_mm": 1}, nil)
	assert.ErrorIs(t, err, ErrUnknownField)
	_, err = st.UpdateSample(ctx, t0, map[string]float64{"humidity": 1}, nil)
	assert.ErrorIs(t, err, series.ErrNotFound)
}

func TestUpdateSampleOntoTakenMinuteWritesNothing(t *testing.T) {
	ctx := context.Background()
	st := openStation(t, 2)
	seedMinutes(t, st, 3)

	before, err := st.Sample(ctx, t0, nil)
	require.NoError(t, err)

	taken := t0.Add(time.Minute)
	_, err = st.UpdateSample(ctx, t0, map[string]float64{"humidity": 99}, &taken)
	require.ErrorIs(t, err, series.ErrDuplicate)

	after, err := st.Sample(ctx, t0, nil)
	require.NoError(t, err)
	assert.True(t, before.Equal(after), "fields must be unchanged after a rejected move")

	same := t0.Add(30 * time.Second)
	updated, err := st.UpdateSample(ctx, t0, map[string]float64{"humidity": 99}, &same)
	require.NoError(t, err, "moving within the same minute is a plain update")
	v, _ := updated.Value("humidity")
	assert.Equal(t, 99.0, v)
}

func TestEmptyStationBounds(t *testing.T) {
	st := openStation(t, 2)
	_, err := st.First()
	assert.ErrorIs(t, err, series.ErrEmptySeries)
	assert.ErrorIs(t, err, series.ErrNotFound)
	_, err = st.Last()
	assert.ErrorIs(t, err, series.ErrEmptySeries)
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	st := openStation(t, 2)
	for i, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		_, err := st.AddSample(ctx, t0.Add(time.Duration(i)*time.Minute), map[string]float64{"temp_c": v})
		require.NoError(t, err)
	}

	mean, err := st.Mean(ctx, "temp_c", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 5.0, mean)

	sd, err := st.StdDev(ctx, "temp_c", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, sd, 1e-12)

	max, err := st.Max(ctx, "temp_c", t0, t0.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 4.0, max)

	min, err := st.Min(ctx, "temp_c", t0.Add(4*time.Minute), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 5.0, min)

	_, err = st.Mean(ctx, "temp_c", t0.Add(time.Hour), t0.Add(2*time.Hour))
	assert.ErrorIs(t, err, stats.ErrEmpty)

	_, err = st.Mean(ctx, "rain_mm", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrUnknownField)

	all, err := st.Summaries(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Contains(t, all, "humidity")
	assert.Equal(t, 0.0, *all["humidity"].StdDev)
	assert.Equal(t, 9.0, *all["temp_c"].Max)
}

func TestParseStatKind(t *testing.T) {
	tests := map[string]StatKind{"mean": StatMean, "MAX": StatMax, " min ": StatMin, "std": StatStd, "stdev": StatStd}
	for in, want := range tests {
		got, err := ParseStatKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStatKind("median")
	assert.ErrorIs(t, err, ErrUnknownStat)
}

func TestModelDefaultsAndOrder(t *testing.T) {
	st := openStation(t, 2)

	a, err := st.CreateModel(forecast.Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultInputSteps, a.Config.InputSteps)
	assert.Equal(t, DefaultHorizonSteps, a.Config.HorizonSteps)
	assert.Equal(t, forecast.StateConfigured, a.Pipeline.State)

	b, err := st.CreateModel(forecast.Config{InputSteps: 4, HorizonSteps: 1, OutputFields: []string{"temp_c"}})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	list := st.Models()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)

	require.NoError(t, st.DeleteModel(a.ID))
	assert.ErrorIs(t, st.DeleteModel(a.ID), series.ErrNotFound)
	_, err = st.Model(a.ID)
	assert.ErrorIs(t, err, series.ErrNotFound)
	assert.Len(t, st.Models(), 1)

	_, err = st.CreateModel(forecast.Config{OutputFields: []string{"rain_mm"}})
	assert.ErrorIs(t, err, forecast.ErrInvalidConfig)
}

func TestModelTrainAndPredict(t *testing.T) {
	ctx := context.Background()
	st := openStation(t, 2)
	seedMinutes(t, st, 120)

	m, err := st.CreateModel(forecast.Config{InputSteps: 10, HorizonSteps: 3, OutputFields: []string{"temp_c"}})
	require.NoError(t, err)

	_, err = st.Predict(ctx, m.ID)
	assert.ErrorIs(t, err, forecast.ErrNotTrained)

	report, err := st.TrainModel(ctx, m.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultEpochs, report.EpochsRun)

	info, err := st.Model(m.ID)
	require.NoError(t, err)
	assert.Equal(t, forecast.StateTrained, info.Pipeline.State)
	require.NotNil(t, info.LastTrain)

	preds, err := st.Predict(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, preds, 3)
	last, err := st.Last()
	require.NoError(t, err)
	assert.Equal(t, last.Add(time.Minute), preds[0].Timestamp())

	fields, err := st.OutputFields(m.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"temp_c"}, fields)

	updated, err := st.UpdateModel(m.ID, nil, []string{"humidity"})
	require.NoError(t, err)
	assert.Equal(t, forecast.StateConfigured, updated.Pipeline.State)
	assert.Nil(t, updated.LastTrain)
	_, err = st.Predict(ctx, m.ID)
	assert.ErrorIs(t, err, forecast.ErrNotTrained)

	_, err = st.TrainModel(ctx, "missing", 1, 1)
	assert.ErrorIs(t, err, series.ErrNotFound)
}
