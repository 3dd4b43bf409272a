package worker

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aveslab/curio/pkg/models"
)

// handlePatternGet returns the learned pattern for a species/feature pair.
// Responds 404 while the pattern has too few samples to be authoritative.
func (s *Service) handlePatternGet(w http.ResponseWriter, r *http.Request) {
	c, ok := s.components()
	if !ok {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}

	pattern, err := c.learner.GetPattern(r.Context(), chi.URLParam(r, "featureName"), chi.URLParam(r, "speciesID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, pattern)
}

// handleRecommendedFeatures returns the feature list to annotate next for a
// species, under-covered features first.
func (s *Service) handleRecommendedFeatures(w http.ResponseWriter, r *http.Request) {
	c, ok := s.components()
	if !ok {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}

	speciesID := r.URL.Query().Get("species")
	if speciesID == "" {
		writeError(w, &models.ValidationError{Field: "species", Reason: "query parameter required"})
		return
	}

	features, err := c.learner.GetRecommendedFeatures(r.Context(), speciesID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"species_id": speciesID, "features": features})
}

// handleVocabularyGaps reports vocabulary coverage gaps, for one species
// when ?species= is given, otherwise across all species.
func (s *Service) handleVocabularyGaps(w http.ResponseWriter, r *http.Request) {
	c, ok := s.components()
	if !ok {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}

	var (
		gaps []models.VocabularyGap
		err  error
	)
	if speciesID := r.URL.Query().Get("species"); speciesID != "" {
		gaps, err = c.learner.GapsForSpecies(r.Context(), speciesID)
	} else {
		gaps, err = c.learner.Gaps(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"gaps": gaps})
}

// handleEnhancement returns learned prompt guidance for a species:
// emphasized features, suppressions, and gap promotions.
func (s *Service) handleEnhancement(w http.ResponseWriter, r *http.Request) {
	c, ok := s.components()
	if !ok {
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}

	enh, err := c.enhancer.EnhanceForSpecies(r.Context(), chi.URLParam(r, "speciesID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, enh)
}
