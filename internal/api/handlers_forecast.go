package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lox/skyscribe/internal/forecast"
	"github.com/lox/skyscribe/internal/narrative"
)

type createModelRequest struct {
	InputFields           []string `json:"input_fields" validate:"omitempty,dive,required"`
	OutputFields          []string `json:"output_fields" validate:"omitempty,dive,required"`
	InputSteps            int      `json:"input_steps" validate:"omitempty,min=1"`
	HorizonSteps          int      `json:"horizon_steps" validate:"omitempty,min=1"`
	TestFraction          float64  `json:"test_fraction" validate:"omitempty,gt=0,lt=1"`
	Patience              int      `json:"patience" validate:"omitempty,min=1"`
	LearningRate          float64  `json:"learning_rate" validate:"omitempty,gt=0"`
	BuildOnlyOnFirstTrain bool     `json:"build_only_on_first_train"`
}

func (req createModelRequest) config() forecast.Config {
	return forecast.Config{
		InputFields:           req.InputFields,
		OutputFields:          req.OutputFields,
		InputSteps:            req.InputSteps,
		HorizonSteps:          req.HorizonSteps,
		TestFraction:          req.TestFraction,
		Patience:              req.Patience,
		LearningRate:          req.LearningRate,
		BuildOnlyOnFirstTrain: req.BuildOnlyOnFirstTrain,
	}
}

type updateModelRequest struct {
	InputFields  []string `json:"input_fields" validate:"omitempty,dive,required"`
	OutputFields []string `json:"output_fields" validate:"omitempty,dive,required"`
}

type trainRequest struct {
	Epochs    int `json:"epochs" validate:"omitempty,min=1,max=10000"`
	BatchSize int `json:"batch_size" validate:"omitempty,min=1"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	st, err := s.station(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st.Models())
}

func (s *Server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	st, err := s.station(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createModelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	info, err := st.CreateModel(req.config())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	st, err := s.station(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	info, err := st.Model(chi.URLParam(r, "model"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleUpdateModel(w http.ResponseWriter, r *http.Request) {
	st, err := s.station(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updateModelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	info, err := st.UpdateModel(chi.URLParam(r, "model"), req.InputFields, req.OutputFields)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	st, err := s.station(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "model")
	if err := st.DeleteModel(id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "model " + id + " deleted"})
}

func (s *Server) handleTrainModel(w http.ResponseWriter, r *http.Request) {
	st, err := s.station(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req trainRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	report, err := st.TrainModel(r.Context(), chi.URLParam(r, "model"), req.Epochs, req.BatchSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	st, err := s.station(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := st.Predict(r.Context(), chi.URLParam(r, "model"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNarrative(w http.ResponseWriter, r *http.Request) {
	if !s.narrator.Enabled() {
		writeError(w, r, narrative.ErrDisabled)
		return
	}
	st, err := s.station(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "model")
	fields, err := st.OutputFields(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := st.Predict(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	text, err := s.narrator.Summarize(r.Context(), narrative.Forecast{
		Location: st.Info().Location,
		Fields:   fields,
		Samples:  out,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"model": id, "narrative": text})
}
