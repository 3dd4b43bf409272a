package worker

import (
	"errors"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/aveslab/curio/internal/learning"
	"github.com/aveslab/curio/internal/quality"
	"github.com/aveslab/curio/internal/recommend"
	"github.com/aveslab/curio/internal/review"
	"github.com/aveslab/curio/internal/vision"
	"github.com/aveslab/curio/pkg/models"
)

// writeJSON writes a JSON response with proper headers.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError maps domain errors to HTTP status codes and writes a JSON body.
func writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, models.ErrInsufficientData):
		status = http.StatusNotFound
	case models.IsValidation(err):
		status = http.StatusBadRequest
	case models.IsTransient(err):
		status = http.StatusBadGateway
	case models.IsPersistence(err):
		status = http.StatusInternalServerError
		log.Error().Err(err).Msg("Persistence error")
	default:
		status = http.StatusInternalServerError
		log.Error().Err(err).Msg("Unhandled error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}); encErr != nil {
		log.Error().Err(encErr).Msg("Failed to encode error response")
	}
}

// decodeJSON reads a JSON request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &models.ValidationError{Field: "body", Reason: "invalid JSON: " + err.Error()}
	}
	return nil
}

// handleHealth returns service health status.
// Available immediately, even during initialization.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !s.ready.Load() {
		status = "initializing"
	}
	writeJSON(w, map[string]any{
		"status":  status,
		"version": s.version,
		"uptime":  time.Since(s.startTime).Seconds(),
	})
}

// handleReady returns 200 only when fully initialized.
func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)

		resp := map[string]string{"status": "initializing"}
		if err := s.GetInitError(); err != nil {
			resp["status"] = "failed"
			resp["error"] = err.Error()
		}
		_ = json.NewEncoder(w).Encode(resp)
		return
	}
	writeJSON(w, map[string]string{"status": "ready"})
}

// requireReady blocks requests until initialization completes.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "service initializing"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// components returns the initialized domain services. Only call from
// handlers behind requireReady.
func (s *Service) components() (*serviceComponents, bool) {
	s.initMu.RLock()
	defer s.initMu.RUnlock()
	if s.store == nil {
		return nil, false
	}
	return &serviceComponents{
		learner:  s.learner,
		enhancer: s.enhancer,
		scorer:   s.scorer,
		assessor: s.assessor,
		runner:   s.runner,
		engine:   s.engine,
		workflow: s.workflow,
	}, true
}

type serviceComponents struct {
	learner  *learning.Learner
	enhancer *learning.Enhancer
	scorer   *quality.Scorer
	assessor vision.Assessor
	runner   *vision.Runner
	engine   *recommend.Engine
	workflow *review.Workflow
}
