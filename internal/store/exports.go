package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

// Export is one archived copy of a fetched sample export.
type Export struct {
	ID          int64
	ImportRunID sql.NullInt64
	StationID   int64
	FetchedAt   time.Time
	Source      string
	Hash        string
	SizeBytes   int64 // compressed size
}

// ExportHash is the content hash exports are deduplicated on.
func ExportHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ArchiveExport stores a gzip-compressed copy of payload for a station.
// When the station already has an export with the same content that a
// successful import run read, nothing is written and the existing id is
// returned with seen set. An identical export whose run failed or never
// finished is relinked to runID and reported unseen, so it is imported again.
func (s *Store) ArchiveExport(runID *int64, stationID int64, source string, payload []byte) (id int64, seen bool, err error) {
	var run sql.NullInt64
	if runID != nil {
		run = sql.NullInt64{Int64: *runID, Valid: true}
	}

	hash := ExportHash(payload)
	id, imported, err := s.lookupExport(stationID, hash)
	if err != nil {
		return 0, false, err
	}
	if id != 0 {
		if imported {
			return id, true, nil
		}
		if _, err := s.db.Exec(`UPDATE exports SET import_run_id = ?, fetched_at = ?, source = ? WHERE id = ?`,
			run, time.Now().UTC(), source, id); err != nil {
			return 0, false, fmt.Errorf("relink export: %w", err)
		}
		return id, false, nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, false, fmt.Errorf("compress export: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, false, fmt.Errorf("close gzip: %w", err)
	}

	result, err := s.db.Exec(`
		INSERT INTO exports (import_run_id, station_id, fetched_at, source, payload_compressed, payload_hash)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run, stationID, time.Now().UTC(), source, buf.Bytes(), hash)
	if err != nil {
		return 0, false, fmt.Errorf("insert export: %w", err)
	}
	id, err = result.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	return id, false, nil
}

// lookupExport finds a station's export by hash and reports whether the
// import run linked to it succeeded.
func (s *Store) lookupExport(stationID int64, hash string) (int64, bool, error) {
	var id int64
	var success bool
	err := s.db.QueryRow(`
		SELECT e.id, COALESCE(r.success, FALSE)
		FROM exports e
		LEFT JOIN import_runs r ON r.id = e.import_run_id
		WHERE e.station_id = ? AND e.payload_hash = ?
	`, stationID, hash).Scan(&id, &success)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	return id, success, err
}

// GetExport returns the decompressed payload of one of a station's
// archived exports.
func (s *Store) GetExport(stationID, id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT payload_compressed FROM exports WHERE id = ? AND station_id = ?`, id, stationID).Scan(&compressed)
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// RecentExports lists a station's archived exports, newest first.
func (s *Store) RecentExports(stationID int64, limit int) ([]Export, error) {
	rows, err := s.db.Query(`
		SELECT id, import_run_id, station_id, fetched_at, source, payload_hash, LENGTH(payload_compressed)
		FROM exports
		WHERE station_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, stationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Export
	for rows.Next() {
		var e Export
		if err := rows.Scan(&e.ID, &e.ImportRunID, &e.StationID, &e.FetchedAt, &e.Source, &e.Hash, &e.SizeBytes); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneExports deletes exports fetched before cutoff and returns how many
// were removed.
func (s *Store) PruneExports(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM exports WHERE fetched_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
