// Package api serves stations, samples, statistics and forecast models over
// HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/skyscribe/internal/ingest"
	"github.com/lox/skyscribe/internal/logging"
	"github.com/lox/skyscribe/internal/metrics"
	"github.com/lox/skyscribe/internal/narrative"
	"github.com/lox/skyscribe/internal/station"
	"github.com/lox/skyscribe/internal/store"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	store    *store.Store
	registry *station.Registry
	importer *ingest.Importer
	narrator *narrative.Summarizer
	port     string
}

func NewServer(s *store.Store, registry *station.Registry, port string) *Server {
	return &Server{
		store:    s,
		registry: registry,
		importer: ingest.NewImporter(s, nil),
		port:     port,
	}
}

// SetNarrator enables the forecast narrative endpoint.
func (s *Server) SetNarrator(n *narrative.Summarizer) {
	s.narrator = n
}

// SetImporter replaces the importer used by the upload endpoint.
func (s *Server) SetImporter(im *ingest.Importer) {
	s.importer = im
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/stations", func(r chi.Router) {
		r.Get("/", s.handleListStations)

		r.Route("/{station}", func(r chi.Router) {
			r.Get("/", s.handleGetStation)

			r.Route("/samples", func(r chi.Router) {
				r.Get("/", s.handleListSamples)
				r.Get("/{date}", s.handleGetSample)
				r.Post("/{date}", s.handleAddSample)
				r.Put("/{date}", s.handleReplaceSample)
				r.Patch("/{date}", s.handleUpdateSample)
				r.Delete("/{date}", s.handleDeleteSample)
				r.Get("/{start}/{end}", s.handleSampleRange)
			})
			r.Get("/bounds/{which}", s.handleBounds)

			r.Get("/statistics", s.handleStatistics)
			r.Get("/statistics/{start}/{end}", s.handleStatistics)

			r.Get("/imports", s.handleListImports)
			r.Post("/imports", s.handleImport)
			r.Get("/exports", s.handleListExports)
			r.Get("/exports/{export}", s.handleGetExport)

			r.Route("/forecast/models", func(r chi.Router) {
				r.Get("/", s.handleListModels)
				r.Post("/", s.handleCreateModel)
				r.Route("/{model}", func(r chi.Router) {
					r.Get("/", s.handleGetModel)
					r.Patch("/", s.handleUpdateModel)
					r.Delete("/", s.handleDeleteModel)
					r.Post("/train", s.handleTrainModel)
					r.Get("/predict", s.handlePredict)
					r.Get("/narrative", s.handleNarrative)
				})
			})
		})
	})
	return r
}

// Serve runs the HTTP server until ctx is done, then shuts it down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", server.Addr).Msg("api: listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *Server) String() string { return "http-server" }

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		logging.Debug().Str("method", r.Method).Str("route", route).Int("status", status).
			Str("request_id", chimiddleware.GetReqID(r.Context())).Dur("duration", time.Since(start)).
			Msg("api: request")
	})
}

type HealthStatus struct {
	Status           string `json:"status"`
	Backend          string `json:"backend"`
	Stations         int    `json:"stations"`
	CachedStations   int    `json:"cached_stations"`
	MigrationVersion int    `json:"migration_version"`
	Error            string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:         "ok",
		Backend:        s.store.Backend(),
		CachedStations: s.registry.Len(),
	}

	stations, err := s.registry.List()
	if err == nil {
		health.Stations = len(stations)
		health.MigrationVersion, err = s.store.MigrationVersion()
	}
	if err != nil {
		health.Status = "error"
		health.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, health)
		return
	}
	writeJSON(w, http.StatusOK, health)
}
