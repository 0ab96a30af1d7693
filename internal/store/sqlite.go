package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/lox/skyscribe/internal/metrics"
	"github.com/lox/skyscribe/internal/models"
	"github.com/lox/skyscribe/internal/series"
)

// Store keeps stations and import runs in SQLite. Samples live in SQLite
// too unless a Badger database is attached with UseBadger.
type Store struct {
	db     *sql.DB
	badger *badger.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// UseBadger moves sample storage to db.
func (s *Store) UseBadger(db *badger.DB) { s.badger = db }

// Backend names the sample backend in use.
func (s *Store) Backend() string {
	if s.badger != nil {
		return "badger"
	}
	return "sqlite"
}

// Collection returns the sample collection of one station on the
// configured backend.
func (s *Store) Collection(stationID int64) series.Collection {
	if s.badger != nil {
		return NewBadgerSeries(s.badger, stationID)
	}
	return s.Series(stationID)
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) UpsertStation(st models.Station) error {
	fields, err := json.Marshal(st.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO stations (id, location, fields)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			location = excluded.location,
			fields = excluded.fields
	`, st.ID, models.NormalizeLocation(st.Location), string(fields))
	return err
}

func (s *Store) GetStation(id int64) (*models.Station, error) {
	row := s.db.QueryRow(`SELECT id, location, fields FROM stations WHERE id = ?`, id)
	return scanStation(row)
}

// GetStationByLocation matches the location case-insensitively.
func (s *Store) GetStationByLocation(location string) (*models.Station, error) {
	row := s.db.QueryRow(`SELECT id, location, fields FROM stations WHERE location = ? COLLATE NOCASE`, strings.TrimSpace(location))
	return scanStation(row)
}

func (s *Store) ListStations() ([]models.Station, error) {
	rows, err := s.db.Query(`SELECT id, location, fields FROM stations ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		stations = append(stations, *st)
	}
	return stations, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStation(row scanner) (*models.Station, error) {
	var st models.Station
	var fields string
	err := row.Scan(&st.ID, &st.Location, &fields)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &st.Fields); err != nil {
		return nil, fmt.Errorf("decode fields for station %d: %w", st.ID, err)
	}
	return &st, nil
}

// Series returns the sample collection of one station.
func (s *Store) Series(stationID int64) *Series {
	return &Series{db: s.db, stationID: stationID}
}

// Series is a station's samples, one row per minute, with the field values
// held as a JSON object so stations can carry different field sets.
type Series struct {
	db        *sql.DB
	stationID int64
}

var _ series.Collection = (*Series)(nil)

func (c *Series) FindOne(ctx context.Context, q series.Query) (models.Sample, error) {
	q.Limit = 1
	samples, err := c.Find(ctx, q)
	if err != nil {
		return models.Sample{}, err
	}
	if len(samples) == 0 {
		return models.Sample{}, series.ErrNotFound
	}
	return samples[0], nil
}

func (c *Series) Find(ctx context.Context, q series.Query) ([]models.Sample, error) {
	query, args, err := c.buildSelect(q)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []models.Sample
	for rows.Next() {
		var ts int64
		var raw string
		if err := rows.Scan(&ts, &raw); err != nil {
			return nil, err
		}
		s, err := decodeSample(ts, []byte(raw))
		if err != nil {
			return nil, err
		}
		samples = append(samples, s.Project(q.Fields))
	}
	metrics.StoreQueryLatency.WithLabelValues("sqlite", "find").Observe(time.Since(start).Seconds())
	return samples, rows.Err()
}

func (c *Series) buildSelect(q series.Query) (string, []any, error) {
	var b strings.Builder
	b.WriteString(`SELECT ts, fields FROM samples WHERE station_id = ?`)
	args := []any{c.stationID}

	if !q.At.IsZero() {
		b.WriteString(` AND ts = ?`)
		args = append(args, q.At.Unix())
	}
	if !q.From.IsZero() {
		b.WriteString(` AND ts >= ?`)
		args = append(args, q.From.Unix())
	}
	if !q.To.IsZero() {
		b.WriteString(` AND ts <= ?`)
		args = append(args, q.To.Unix())
	}
	for _, field := range q.Filter.Fields() {
		path, err := jsonPath(field)
		if err != nil {
			return "", nil, err
		}
		for _, cond := range q.Filter[field] {
			if !cond.Op.Valid() {
				return "", nil, fmt.Errorf("%w: unknown operator %q", series.ErrMalformedQuery, cond.Op)
			}
			fmt.Fprintf(&b, ` AND json_extract(fields, ?) %s ?`, cond.Op)
			args = append(args, path, cond.Value)
		}
	}

	if q.Order == series.Descending {
		b.WriteString(` ORDER BY ts DESC`)
	} else {
		b.WriteString(` ORDER BY ts ASC`)
	}
	if q.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}
	return b.String(), args, nil
}

func jsonPath(field string) (string, error) {
	if field == "" || strings.ContainsAny(field, `"\`) {
		return "", fmt.Errorf("%w: invalid field name %q", series.ErrMalformedQuery, field)
	}
	return `$."` + field + `"`, nil
}

func (c *Series) InsertOne(ctx context.Context, s models.Sample) error {
	raw, err := json.Marshal(s.Fields())
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO samples (station_id, ts, fields)
		VALUES (?, ?, ?)
		ON CONFLICT(station_id, ts) DO NOTHING
	`, c.stationID, s.Timestamp().Unix(), string(raw))
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("sample at %s: %w", s.Timestamp().Format(models.TimeLayout), series.ErrDuplicate)
	}
	metrics.SamplesWritten.WithLabelValues("insert").Inc()
	return nil
}

func (c *Series) UpdateOne(ctx context.Context, ts time.Time, p series.Patch) (int64, error) {
	if !p.IsRename() {
		path, err := jsonPath(p.Field)
		if err != nil {
			return 0, err
		}
		res, err := c.db.ExecContext(ctx, `
			UPDATE samples SET fields = json_set(fields, ?, ?)
			WHERE station_id = ? AND ts = ?
		`, path, p.Value, c.stationID, ts.Unix())
		if err != nil {
			return 0, fmt.Errorf("update sample: %w", err)
		}
		metrics.SamplesWritten.WithLabelValues("update").Inc()
		return res.RowsAffected()
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if !p.Timestamp.Equal(ts) {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM samples WHERE station_id = ? AND ts = ?`,
			c.stationID, p.Timestamp.Unix()).Scan(&exists)
		if err == nil {
			return 0, fmt.Errorf("rename to %s: %w", p.Timestamp.Format(models.TimeLayout), series.ErrDuplicate)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE samples SET ts = ? WHERE station_id = ? AND ts = ?`,
		p.Timestamp.Unix(), c.stationID, ts.Unix())
	if err != nil {
		return 0, fmt.Errorf("rename sample: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	metrics.SamplesWritten.WithLabelValues("update").Inc()
	return n, nil
}

func (c *Series) ReplaceOne(ctx context.Context, s models.Sample) (int64, error) {
	raw, err := json.Marshal(s.Fields())
	if err != nil {
		return 0, fmt.Errorf("encode sample: %w", err)
	}
	res, err := c.db.ExecContext(ctx, `UPDATE samples SET fields = ? WHERE station_id = ? AND ts = ?`,
		string(raw), c.stationID, s.Timestamp().Unix())
	if err != nil {
		return 0, fmt.Errorf("replace sample: %w", err)
	}
	metrics.SamplesWritten.WithLabelValues("replace").Inc()
	return res.RowsAffected()
}

func (c *Series) DeleteOne(ctx context.Context, ts time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM samples WHERE station_id = ? AND ts = ?`, c.stationID, ts.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete sample: %w", err)
	}
	metrics.SamplesWritten.WithLabelValues("delete").Inc()
	return res.RowsAffected()
}

func decodeSample(ts int64, raw []byte) (models.Sample, error) {
	var fields map[string]float64
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.Sample{}, fmt.Errorf("decode sample %d: %w", ts, err)
	}
	return models.NewSample(time.Unix(ts, 0), fields), nil
}
