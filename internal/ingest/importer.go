// Package ingest imports Blynk CSV exports into station series.
package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/lox/skyscribe/internal/logging"
	"github.com/lox/skyscribe/internal/metrics"
	"github.com/lox/skyscribe/internal/models"
	"github.com/lox/skyscribe/internal/series"
	"github.com/lox/skyscribe/internal/station"
	"github.com/lox/skyscribe/internal/store"
)

// MaxExportSize bounds how much of one export is read.
const MaxExportSize = 64 << 20

// Options controls how an export is resampled.
type Options struct {
	Frequency Frequency
	FillGaps  bool
	// SkipUnchanged returns without parsing when the station already has
	// an archived export with identical content.
	SkipUnchanged bool
}

// Result summarizes one import.
type Result struct {
	RowsRead   int      `json:"rows_read"`
	Samples    int      `json:"samples"`
	Stored     int      `json:"stored"`
	Duplicates int      `json:"duplicates"`
	Flagged    int      `json:"flagged"`
	Dropped    []string `json:"dropped_fields,omitempty"` // export fields the station does not record
	ExportID   int64    `json:"export_id,omitempty"`
	Unchanged  bool     `json:"unchanged,omitempty"`
}

type Importer struct {
	store   *store.Store
	fetcher *Fetcher
}

func NewImporter(s *store.Store, fetcher *Fetcher) *Importer {
	if fetcher == nil {
		fetcher = NewFetcher(nil)
	}
	return &Importer{store: s, fetcher: fetcher}
}

// Import fetches src and stores its samples on st.
func (im *Importer) Import(ctx context.Context, st *station.Station, src string, opts Options) (Result, error) {
	run := im.startRun(st, src)
	rc, err := im.fetcher.Open(ctx, src)
	if err != nil {
		err = fmt.Errorf("open %s: %w", src, err)
		im.finishRun(run, st, Result{}, err)
		return Result{}, err
	}
	defer rc.Close()
	return im.importFrom(ctx, st, run, rc, src, opts)
}

// ImportReader stores the samples of an export read from r. Samples whose
// minute is already recorded are counted as duplicates and skipped.
func (im *Importer) ImportReader(ctx context.Context, st *station.Station, r io.Reader, src string, opts Options) (Result, error) {
	return im.importFrom(ctx, st, im.startRun(st, src), r, src, opts)
}

func (im *Importer) importFrom(ctx context.Context, st *station.Station, run *store.ImportRun, r io.Reader, src string, opts Options) (Result, error) {
	start := time.Now()
	payload, err := readLimited(r, MaxExportSize)
	if err != nil {
		err = fmt.Errorf("read %s: %w", src, err)
		im.finishRun(run, st, Result{}, err)
		return Result{}, err
	}

	exportID, seen := im.archive(run, st, src, payload)
	if seen && opts.SkipUnchanged {
		res := Result{ExportID: exportID, Unchanged: true}
		im.finishRun(run, st, res, nil)
		logging.Debug().Int64("station", st.ID()).Str("source", src).Msg("ingest: export unchanged")
		return res, nil
	}

	res, err := im.load(ctx, st, bytes.NewReader(payload), opts)
	res.ExportID = exportID
	im.finishRun(run, st, res, err)
	if err != nil {
		return res, err
	}

	logging.Info().Int64("station", st.ID()).Str("source", src).Int("rows", res.RowsRead).
		Int("stored", res.Stored).Int("duplicates", res.Duplicates).Int("flagged", res.Flagged).
		Dur("duration", time.Since(start)).Msg("ingest: import complete")
	return res, nil
}

func (im *Importer) load(ctx context.Context, st *station.Station, r io.Reader, opts Options) (Result, error) {
	var res Result
	rows, read, err := ParseBlynk(r)
	res.RowsRead = read
	if err != nil {
		return res, err
	}

	samples := Pivot(rows, opts.Frequency, opts.FillGaps)
	res.Samples = len(samples)
	info := st.Info()
	dropped := make(map[string]bool)

	for _, s := range samples {
		values := make(map[string]float64, len(info.Fields))
		for name, v := range s.Fields() {
			if !info.HasField(name) {
				dropped[name] = true
				continue
			}
			values[name] = v
		}

		if flags := ValidateSample(s); len(flags) > 0 {
			res.Flagged++
			logging.Debug().Str("ts", s.Timestamp().Format(models.TimeLayout)).
				Str("flags", QualityFlagsToJSON(flags)).Msg("ingest: sample flagged")
		}

		if _, err := st.AddSample(ctx, s.Timestamp(), values); err != nil {
			if errors.Is(err, series.ErrDuplicate) {
				res.Duplicates++
				continue
			}
			return res, fmt.Errorf("store sample at %s: %w", s.Timestamp().Format(models.TimeLayout), err)
		}
		res.Stored++
	}

	for name := range dropped {
		res.Dropped = append(res.Dropped, name)
	}
	sort.Strings(res.Dropped)
	return res, nil
}

// archive keeps a copy of the raw export. Archiving failures are logged
// and never fail the import.
func (im *Importer) archive(run *store.ImportRun, st *station.Station, src string, payload []byte) (int64, bool) {
	if im.store == nil {
		return 0, false
	}
	var runID *int64
	if run != nil {
		runID = &run.ID
	}
	id, seen, err := im.store.ArchiveExport(runID, st.ID(), src, payload)
	if err != nil {
		logging.Error().Err(err).Str("source", src).Msg("ingest: failed to archive export")
		return 0, false
	}
	return id, seen
}

// PruneExports deletes archived exports fetched before cutoff.
func (im *Importer) PruneExports(cutoff time.Time) (int64, error) {
	if im.store == nil {
		return 0, nil
	}
	return im.store.PruneExports(cutoff)
}

func (im *Importer) startRun(st *station.Station, src string) *store.ImportRun {
	if im.store == nil {
		return nil
	}
	run, err := im.store.StartImportRun(st.ID(), src)
	if err != nil {
		logging.Error().Err(err).Msg("ingest: failed to start import run")
		return nil
	}
	return run
}

func (im *Importer) finishRun(run *store.ImportRun, st *station.Station, res Result, importErr error) {
	status := "success"
	if importErr != nil {
		status = "error"
	}
	label := strconv.FormatInt(st.ID(), 10)
	metrics.ImportRuns.WithLabelValues(label, status).Inc()
	metrics.SamplesImported.WithLabelValues(label).Add(float64(res.Stored))

	if run == nil {
		return
	}
	run.RowsRead = sql.NullInt64{Int64: int64(res.RowsRead), Valid: true}
	run.SamplesStored = sql.NullInt64{Int64: int64(res.Stored), Valid: true}
	run.Duplicates = sql.NullInt64{Int64: int64(res.Duplicates), Valid: true}
	run.QualityFlags = sql.NullInt64{Int64: int64(res.Flagged), Valid: true}
	run.Success = importErr == nil
	if importErr != nil {
		run.ErrorMessage = sql.NullString{String: importErr.Error(), Valid: true}
	}
	if err := im.store.CompleteImportRun(run); err != nil {
		logging.Error().Err(err).Msg("ingest: failed to complete import run")
	}
}
