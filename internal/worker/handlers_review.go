package worker

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aveslab/curio/internal/review"
	"github.com/aveslab/curio/pkg/models"
)

// handleReviewBegin registers an annotation as pending review.
func (s *Service) handleReviewBegin(w http.ResponseWriter, r *http.Request) {
	c, ok := s.components()
	if !ok {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		AnnotationID string `json:"annotation_id"`
		FeatureName  string `json:"feature_name"`
		SpeciesID    string `json:"species_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	rev, err := c.workflow.Begin(r.Context(), body.AnnotationID, body.FeatureName, body.SpeciesID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, rev)
}

// handleReviewGet returns the review state of an annotation.
func (s *Service) handleReviewGet(w http.ResponseWriter, r *http.Request) {
	c, ok := s.components()
	if !ok {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}

	rev, err := c.workflow.Get(r.Context(), chi.URLParam(r, "annotationID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if rev == nil {
		http.Error(w, "review not found", http.StatusNotFound)
		return
	}
	writeJSON(w, rev)
}

// handleReviewApprove approves a pending or under-review annotation.
func (s *Service) handleReviewApprove(w http.ResponseWriter, r *http.Request) {
	c, ok := s.components()
	if !ok {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}

	rev, err := c.workflow.Approve(r.Context(), chi.URLParam(r, "annotationID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rev)
}

// handleReviewReject rejects a pending or under-review annotation with a
// rejection category.
func (s *Service) handleReviewReject(w http.ResponseWriter, r *http.Request) {
	c, ok := s.components()
	if !ok {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Category models.RejectionCategory `json:"category"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	rev, err := c.workflow.Reject(r.Context(), chi.URLParam(r, "annotationID"), body.Category)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rev)
}

// handleReviewCorrect records a position correction on a pending annotation.
// The annotation stays pending.
func (s *Service) handleReviewCorrect(w http.ResponseWriter, r *http.Request) {
	c, ok := s.components()
	if !ok {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Original   models.Position `json:"original"`
		Corrected  models.Position `json:"corrected"`
		ReviewerID string          `json:"reviewer_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	correction, err := c.workflow.Correct(r.Context(), chi.URLParam(r, "annotationID"), body.Original, body.Corrected, body.ReviewerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, correction)
}

// handleReviewFeedback applies one reviewer action (approve, reject, or
// correct) through the workflow's dispatch entrypoint.
func (s *Service) handleReviewFeedback(w http.ResponseWriter, r *http.Request) {
	c, ok := s.components()
	if !ok {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}

	var fb review.Feedback
	if err := decodeJSON(r, &fb); err != nil {
		writeError(w, err)
		return
	}

	rev, err := c.workflow.Apply(r.Context(), chi.URLParam(r, "annotationID"), fb)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rev)
}

// handleReviewReopen moves an approved or rejected annotation back to
// under-review via administrative override.
func (s *Service) handleReviewReopen(w http.ResponseWriter, r *http.Request) {
	c, ok := s.components()
	if !ok {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}

	rev, err := c.workflow.Reopen(r.Context(), chi.URLParam(r, "annotationID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rev)
}
