package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/lox/skyscribe/internal/models"
	"github.com/lox/skyscribe/internal/series"
	"github.com/lox/skyscribe/internal/station"
)

func (s *Server) handleListStations(w http.ResponseWriter, r *http.Request) {
	if loc := r.URL.Query().Get("location"); loc != "" {
		st, err := s.registry.Find(r.Context(), loc)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st.Info())
		return
	}

	stations, err := s.registry.List()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if stations == nil {
		stations = []models.Station{}
	}
	writeJSON(w, http.StatusOK, stations)
}

func (s *Server) handleGetStation(w http.ResponseWriter, r *http.Request) {
	st, err := s.station(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st.Info())
}

// handleListSamples returns the whole series, or the samples matching the
// query-string filter when one is given.
func (s *Server) handleListSamples(w http.ResponseWriter, r *http.Request) {
	st, err := s.station(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	query := r.URL.Query()
	var samples []models.Sample
	if len(query) == 0 {
		samples, err = st.Samples(r.Context(), time.Time{}, time.Time{}, nil)
	} else {
		var f series.Filter
		f, err = series.ParseFilter(query)
		if err == nil {
			samples, err = st.Filtered(r.Context(), f, nil)
		}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handleSampleRange(w http.ResponseWriter, r *http.Request) {
	st, err := s.station(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	from, err := pathTime(r, "start")
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := pathTime(r, "end")
	if err != nil {
		writeError(w, r, err)
		return
	}
	samples, err := st.Samples(r.Context(), from, to, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) stationAndTime(w http.ResponseWriter, r *http.Request) (*station.Station, time.Time, bool) {
	st, err := s.station(r)
	if err != nil {
		writeError(w, r, err)
		return nil, time.Time{}, false
	}
	ts, err := pathTime(r, "date")
	if err != nil {
		writeError(w, r, err)
		return nil, time.Time{}, false
	}
	return st, ts, true
}

func (s *Server) handleGetSample(w http.ResponseWriter, r *http.Request) {
	st, ts, ok := s.stationAndTime(w, r)
	if !ok {
		return
	}
	sample, err := st.Sample(r.Context(), ts, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

// sampleBody is a JSON object of field values. A "ts" entry is kept apart
// so PATCH can re-key a sample.
type sampleBody struct {
	values map[string]float64
	moveTo *time.Time
}

func decodeSampleBody(r *http.Request) (sampleBody, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return sampleBody{}, fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	body := sampleBody{values: make(map[string]float64, len(raw))}
	for k, v := range raw {
		if k == models.TimestampField {
			var str string
			if err := json.Unmarshal(v, &str); err != nil {
				return sampleBody{}, fmt.Errorf("%w: %s must be a string", errBadRequest, k)
			}
			ts, err := models.ParseTimestamp(str)
			if err != nil {
				return sampleBody{}, fmt.Errorf("%w: %s %q is not in %q format", errBadRequest, k, str, models.TimeLayout)
			}
			body.moveTo = &ts
			continue
		}
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			return sampleBody{}, fmt.Errorf("%w: field %s must be a number", errBadRequest, k)
		}
		body.values[k] = f
	}
	return body, nil
}

func (s *Server) handleAddSample(w http.ResponseWriter, r *http.Request) {
	st, ts, ok := s.stationAndTime(w, r)
	if !ok {
		return
	}
	body, err := decodeSampleBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sample, err := st.AddSample(r.Context(), ts, body.values)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sample)
}

func (s *Server) handleReplaceSample(w http.ResponseWriter, r *http.Request) {
	st, ts, ok := s.stationAndTime(w, r)
	if !ok {
		return
	}
	body, err := decodeSampleBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sample, err := st.ReplaceSample(r.Context(), ts, body.values)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

// handleUpdateSample sets the given fields and re-keys the sample when the
// body carries a new ts.
func (s *Server) handleUpdateSample(w http.ResponseWriter, r *http.Request) {
	st, ts, ok := s.stationAndTime(w, r)
	if !ok {
		return
	}
	body, err := decodeSampleBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(body.values) == 0 && body.moveTo == nil {
		writeError(w, r, fmt.Errorf("%w: no fields to update", errBadRequest))
		return
	}
	sample, err := st.UpdateSample(r.Context(), ts, body.values, body.moveTo)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

func (s *Server) handleDeleteSample(w http.ResponseWriter, r *http.Request) {
	st, ts, ok := s.stationAndTime(w, r)
	if !ok {
		return
	}
	if err := st.DeleteSample(r.Context(), ts); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "deleted " + ts.Format(models.TimeLayout)})
}

// handleBounds reports the first or last recorded timestamp. "0" and "1"
// are accepted for first and last.
func (s *Server) handleBounds(w http.ResponseWriter, r *http.Request) {
	st, err := s.station(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var ts time.Time
	switch which := chi.URLParam(r, "which"); which {
	case "first", "0":
		ts, err = st.First()
	case "last", "1":
		ts, err = st.Last()
	default:
		err = fmt.Errorf("%w: bound %q must be first or last", errBadRequest, which)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{models.TimestampField: ts.Format(models.TimeLayout)})
}
