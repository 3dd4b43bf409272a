package worker

import (
	"net/http"

	"github.com/aveslab/curio/internal/recommend"
	"github.com/aveslab/curio/pkg/models"
)

// recommendRequest is the body of POST /api/recommend. Candidates are
// supplied by the caller; the engine ranks them against learned state.
type recommendRequest struct {
	Candidates []*models.Candidate `json:"candidates"`
	recommend.Request
}

// handleRecommend ranks the submitted candidates for an exercise.
func (s *Service) handleRecommend(w http.ResponseWriter, r *http.Request) {
	c, ok := s.components()
	if !ok {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}

	var req recommendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Candidates) == 0 {
		writeError(w, &models.ValidationError{Field: "candidates", Reason: "at least one candidate required"})
		return
	}

	resp, err := c.engine.Recommend(r.Context(), req.Candidates, req.Request)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

// handleCacheStats reports recommendation cache hit/miss/eviction counters.
func (s *Service) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	c, ok := s.components()
	if !ok {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, c.engine.Cache().Stats())
}
