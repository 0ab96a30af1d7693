package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/lox/skyscribe/internal/forecast"
	"github.com/lox/skyscribe/internal/ingest"
	"github.com/lox/skyscribe/internal/logging"
	"github.com/lox/skyscribe/internal/models"
	"github.com/lox/skyscribe/internal/narrative"
	"github.com/lox/skyscribe/internal/series"
	"github.com/lox/skyscribe/internal/station"
	"github.com/lox/skyscribe/internal/stats"
)

// errBadRequest marks request bodies and parameters that cannot be used.
var errBadRequest = errors.New("bad request")

var validate = validator.New()

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("api: encode response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"encode response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, series.ErrNotFound),
		errors.Is(err, series.ErrEmptySeries),
		errors.Is(err, stats.ErrEmpty):
		return http.StatusNotFound
	case errors.Is(err, series.ErrDuplicate),
		errors.Is(err, series.ErrMalformedQuery),
		errors.Is(err, forecast.ErrInvalidConfig),
		errors.Is(err, station.ErrUnknownField),
		errors.Is(err, station.ErrUnknownStat),
		errors.Is(err, ingest.ErrMalformedCSV),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, forecast.ErrNotTrained):
		return http.StatusConflict
	case errors.Is(err, stats.ErrOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, narrative.ErrDisabled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logging.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("api: request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// decodeJSON reads an optional JSON body into v and validates it. An empty
// body leaves v at its zero value.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// pathTime parses a timestamp path parameter in the sample layout, or
// RFC 3339.
func pathTime(r *http.Request, name string) (time.Time, error) {
	raw, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	if t, err := models.ParseTimestamp(raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return models.TruncateTimestamp(t), nil
	}
	return time.Time{}, fmt.Errorf("%w: %s %q is not in %q format", errBadRequest, name, raw, models.TimeLayout)
}

func (s *Server) station(r *http.Request) (*station.Station, error) {
	key, err := url.PathUnescape(chi.URLParam(r, "station"))
	if err != nil {
		return nil, fmt.Errorf("%w: station: %v", errBadRequest, err)
	}
	return s.registry.Find(r.Context(), key)
}
