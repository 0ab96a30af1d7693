package api

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lox/skyscribe/internal/ingest"
	"github.com/lox/skyscribe/internal/series"
	"github.com/lox/skyscribe/internal/station"
	"github.com/lox/skyscribe/internal/stats"
	"github.com/lox/skyscribe/internal/store"
)

// handleStatistics computes statistics over the whole series, or over
// [start, end] when both path parameters are present. With stat-type and
// pin it returns one value; without either it returns every statistic of
// every field.
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	st, err := s.station(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var from, to time.Time
	if chi.URLParam(r, "start") != "" {
		if from, err = pathTime(r, "start"); err != nil {
			writeError(w, r, err)
			return
		}
		if to, err = pathTime(r, "end"); err != nil {
			writeError(w, r, err)
			return
		}
	}

	q := r.URL.Query()
	kindRaw, pin := q.Get("stat-type"), q.Get("pin")
	if kindRaw == "" && pin == "" {
		summaries, err := st.Summaries(r.Context(), from, to)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summaries)
		return
	}
	if kindRaw == "" || pin == "" {
		writeError(w, r, fmt.Errorf("%w: stat-type and pin must be given together", errBadRequest))
		return
	}

	kind, err := station.ParseStatKind(kindRaw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := st.Stat(r.Context(), kind, pin, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		writeError(w, r, fmt.Errorf("%s of %s: %w", kind, pin, stats.ErrOverflow))
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"result": v})
}

type importRunView struct {
	ID            int64      `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Source        string     `json:"source"`
	RowsRead      int64      `json:"rows_read"`
	SamplesStored int64      `json:"samples_stored"`
	Duplicates    int64      `json:"duplicates"`
	QualityFlags  int64      `json:"quality_flags"`
	Success       bool       `json:"success"`
	Error         string     `json:"error,omitempty"`
}

func viewImportRun(run store.ImportRun) importRunView {
	v := importRunView{
		ID:            run.ID,
		StartedAt:     run.StartedAt,
		Source:        run.Source,
		RowsRead:      nullInt(run.RowsRead),
		SamplesStored: nullInt(run.SamplesStored),
		Duplicates:    nullInt(run.Duplicates),
		QualityFlags:  nullInt(run.QualityFlags),
		Success:       run.Success,
		Error:         run.ErrorMessage.String,
	}
	if run.FinishedAt.Valid {
		v.FinishedAt = &run.FinishedAt.Time
	}
	return v
}

func nullInt(n sql.NullInt64) int64 {
	if !n.Valid {
		return 0
	}
	return n.Int64
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 20, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: limit %q", errBadRequest, raw)
	}
	return n, nil
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	st, err := s.station(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	runs, err := s.store.RecentImportRuns(st.ID(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]importRunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, viewImportRun(run))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleImport stores a Blynk CSV export sent as the request body.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	st, err := s.station(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	freq, err := ingest.ParseFrequency(q.Get("frequency"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	opts := ingest.Options{Frequency: freq, FillGaps: q.Get("fill_gaps") == "true"}

	src := q.Get("source")
	if src == "" {
		src = "upload"
	}
	res, err := s.importer.ImportReader(r.Context(), st, r.Body, src, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type exportView struct {
	ID          int64     `json:"id"`
	ImportRunID *int64    `json:"import_run_id,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
	Source      string    `json:"source"`
	Hash        string    `json:"sha256"`
	SizeBytes   int64     `json:"compressed_bytes"`
}

func (s *Server) handleListExports(w http.ResponseWriter, r *http.Request) {
	st, err := s.station(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	exports, err := s.store.RecentExports(st.ID(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]exportView, 0, len(exports))
	for _, e := range exports {
		v := exportView{ID: e.ID, FetchedAt: e.FetchedAt, Source: e.Source, Hash: e.Hash, SizeBytes: e.SizeBytes}
		if e.ImportRunID.Valid {
			v.ImportRunID = &e.ImportRunID.Int64
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

// handleGetExport returns an archived export as the CSV it was fetched as.
func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	st, err := s.station(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "export"), 10, 64)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: export id %q", errBadRequest, chi.URLParam(r, "export")))
		return
	}
	payload, err := s.store.GetExport(st.ID(), id)
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("export %d: %w", id, series.ErrNotFound)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
