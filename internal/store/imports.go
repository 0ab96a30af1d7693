package store

import (
	"database/sql"
	"time"
)

// ImportRun records one import of an external sample source for auditing.
type ImportRun struct {
	ID            int64
	StartedAt     time.Time
	FinishedAt    sql.NullTime
	StationID     int64
	Source        string // path or URL the rows came from
	RowsRead      sql.NullInt64
	SamplesStored sql.NullInt64
	Duplicates    sql.NullInt64
	QualityFlags  sql.NullInt64 // samples carrying at least one range flag
	Success       bool
	ErrorMessage  sql.NullString
}

// StartImportRun creates a new import run record and returns it.
func (s *Store) StartImportRun(stationID int64, source string) (*ImportRun, error) {
	run := &ImportRun{
		StartedAt: time.Now().UTC(),
		StationID: stationID,
		Source:    source,
	}

	result, err := s.db.Exec(`
		INSERT INTO import_runs (started_at, station_id, source, success)
		VALUES (?, ?, ?, FALSE)
	`, run.StartedAt, run.StationID, run.Source)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteImportRun updates the import run with results.
func (s *Store) CompleteImportRun(run *ImportRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE import_runs SET
			finished_at = ?,
			rows_read = ?,
			samples_stored = ?,
			duplicates = ?,
			quality_flags = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.RowsRead, run.SamplesStored, run.Duplicates,
		run.QualityFlags, run.Success, run.ErrorMessage, run.ID)
	return err
}

// RecentImportRuns returns the latest import runs for a station, newest first.
func (s *Store) RecentImportRuns(stationID int64, limit int) ([]ImportRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, station_id, source, rows_read,
			   samples_stored, duplicates, quality_flags, success, error_message
		FROM import_runs
		WHERE station_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, stationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ImportRun
	for rows.Next() {
		var r ImportRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.StationID, &r.Source,
			&r.RowsRead, &r.SamplesStored, &r.Duplicates, &r.QualityFlags,
			&r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
