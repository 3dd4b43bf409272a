package worker

import (
	"encoding/base64"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aveslab/curio/internal/vision"
	"github.com/aveslab/curio/pkg/models"
)

// assessImage is one image in an assessment request. Data is base64 of the
// raw image bytes.
type assessImage struct {
	ImageID   string `json:"image_id"`
	SpeciesID string `json:"species_id,omitempty"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

func (a assessImage) toRef() (vision.ImageRef, error) {
	if a.ImageID == "" {
		return vision.ImageRef{}, &models.ValidationError{Field: "image_id", Reason: "required"}
	}
	if a.MediaType == "" {
		return vision.ImageRef{}, &models.ValidationError{Field: "media_type", Reason: "required"}
	}
	raw, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		return vision.ImageRef{}, &models.ValidationError{Field: "data", Reason: "invalid base64"}
	}
	if len(raw) == 0 {
		return vision.ImageRef{}, &models.ValidationError{Field: "data", Reason: "required"}
	}
	return vision.ImageRef{
		ImageID:   a.ImageID,
		SpeciesID: a.SpeciesID,
		MediaType: a.MediaType,
		Data:      raw,
	}, nil
}

// handleAssess assesses a single image synchronously and records the result.
func (s *Service) handleAssess(w http.ResponseWriter, r *http.Request) {
	c, ok := s.components()
	if !ok {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}

	var body assessImage
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	ref, err := body.toRef()
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := c.assessor.Assess(r.Context(), ref)
	if err != nil {
		writeError(w, err)
		return
	}

	assessment := c.scorer.Compute(ref.ImageID, result.Scores)
	assessment.Issues = append(assessment.Issues, result.Issues...)
	if err := c.scorer.Record(r.Context(), assessment); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, assessment)
}

// handleBatchStart launches an asynchronous batch assessment job.
func (s *Service) handleBatchStart(w http.ResponseWriter, r *http.Request) {
	c, ok := s.components()
	if !ok {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Images []assessImage `json:"images"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if len(body.Images) == 0 {
		writeError(w, &models.ValidationError{Field: "images", Reason: "at least one image required"})
		return
	}

	refs := make([]vision.ImageRef, 0, len(body.Images))
	for _, img := range body.Images {
		ref, err := img.toRef()
		if err != nil {
			writeError(w, err)
			return
		}
		refs = append(refs, ref)
	}

	job := c.runner.Start(refs)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]any{"job_id": job.ID, "total": job.Total})
}

// handleBatchStatus returns a snapshot of a batch job.
func (s *Service) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := s.components()
	if !ok {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}

	job, ok := c.runner.Job(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, job.Snapshot())
}

// handleBatchCancel cancels a running batch job. In-flight items complete;
// no new items start.
func (s *Service) handleBatchCancel(w http.ResponseWriter, r *http.Request) {
	c, ok := s.components()
	if !ok {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}

	job, ok := c.runner.Job(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	job.Cancel()
	writeJSON(w, job.Snapshot())
}

// handleAssessmentGet returns the most recent assessment for an image.
func (s *Service) handleAssessmentGet(w http.ResponseWriter, r *http.Request) {
	c, ok := s.components()
	if !ok {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}

	imageID := chi.URLParam(r, "imageID")
	assessment, err := c.scorer.Latest(r.Context(), imageID)
	if err != nil {
		writeError(w, err)
		return
	}
	if assessment == nil {
		http.Error(w, "no assessment for image", http.StatusNotFound)
		return
	}
	writeJSON(w, assessment)
}

// handleAssessmentOverride records a reviewer's manual re-score. The manual
// assessment becomes authoritative and the auto/manual delta feeds pattern
// learning for the listed features.
func (s *Service) handleAssessmentOverride(w http.ResponseWriter, r *http.Request) {
	c, ok := s.components()
	if !ok {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Scores    models.SubScores `json:"scores"`
		Reasons   []string         `json:"reasons,omitempty"`
		SpeciesID string           `json:"species_id,omitempty"`
		Features  []string         `json:"features,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	imageID := chi.URLParam(r, "imageID")
	original, err := c.scorer.Latest(r.Context(), imageID)
	if err != nil {
		writeError(w, err)
		return
	}
	if original == nil {
		http.Error(w, "no assessment to override", http.StatusNotFound)
		return
	}

	override, delta, err := c.scorer.LearnFromOverride(r.Context(), original, body.Scores, body.Reasons)
	if err != nil {
		writeError(w, err)
		return
	}

	if body.SpeciesID != "" && len(body.Features) > 0 {
		if err := c.learner.LearnFromDelta(r.Context(), body.SpeciesID, body.Features, delta); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, map[string]any{"assessment": override, "delta": delta})
}
