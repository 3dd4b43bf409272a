// Package quality converts four-dimension vision assessments into a single
// 0-100 suitability score and handles manual-override learning.
package quality

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aveslab/curio/internal/store"
	"github.com/aveslab/curio/pkg/models"
)

// Scorer computes overall quality scores and records assessments.
type Scorer struct {
	config *models.QualityConfig
	store  store.Store
	log    zerolog.Logger
	now    func() time.Time
}

// NewScorer creates a scorer over the given store.
// If config is nil, uses the default configuration.
func NewScorer(st store.Store, config *models.QualityConfig, log zerolog.Logger) *Scorer {
	if config == nil {
		config = models.DefaultQualityConfig()
	}
	return &Scorer{
		config: config,
		store:  st,
		log:    log.With().Str("component", "quality").Logger(),
		now:    time.Now,
	}
}

// SetClock replaces the scorer's clock. Test helper.
func (s *Scorer) SetClock(now func() time.Time) { s.now = now }

// Compute builds an assessment from raw sub-scores. Each dimension is
// clamped to its cap; the overall score is the unweighted sum, giving a
// 0-100 range. Suitability is overall >= the configured threshold.
func (s *Scorer) Compute(imageID string, sub models.SubScores) *models.QualityAssessment {
	sub.Visibility = clamp(sub.Visibility, 0, models.MaxVisibilityScore)
	sub.Clarity = clamp(sub.Clarity, 0, models.MaxClarityScore)
	sub.Technical = clamp(sub.Technical, 0, models.MaxTechnicalScore)
	sub.Educational = clamp(sub.Educational, 0, models.MaxEducationalScore)

	overall := sub.Visibility + sub.Clarity + sub.Technical + sub.Educational

	return &models.QualityAssessment{
		ID:        uuid.NewString(),
		ImageID:   imageID,
		Scores:    sub,
		Overall:   overall,
		Suitable:  overall >= s.config.SuitabilityThreshold,
		Issues:    s.issues(sub),
		CreatedAt: s.now(),
	}
}

// issues flags dimensions scoring below the configured fraction of their cap.
func (s *Scorer) issues(sub models.SubScores) []string {
	frac := s.config.IssueFraction
	var issues []string
	if sub.Visibility < models.MaxVisibilityScore*frac {
		issues = append(issues, "low visibility: diagnostic features are hard to see; prefer an unobstructed pose")
	}
	if sub.Clarity < models.MaxClarityScore*frac {
		issues = append(issues, "low clarity: image is soft or poorly lit; prefer sharper focus")
	}
	if sub.Technical < models.MaxTechnicalScore*frac {
		issues = append(issues, "technical quality: low resolution or compression artifacts")
	}
	if sub.Educational < models.MaxEducationalScore*frac {
		issues = append(issues, "limited educational value: few teachable features visible")
	}
	return issues
}

// Record persists an assessment. Assessments are immutable once written.
func (s *Scorer) Record(ctx context.Context, a *models.QualityAssessment) error {
	blob, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}
	key := a.ImageID + "/" + a.ID
	if err := s.store.Put(ctx, store.NamespaceAssessments, key, blob); err != nil {
		return models.NewPersistenceError(store.NamespaceAssessments, key, err)
	}
	return nil
}

// Latest returns the most recent assessment for an image, or nil if none.
func (s *Scorer) Latest(ctx context.Context, imageID string) (*models.QualityAssessment, error) {
	prefix := imageID + "/"
	keys, err := s.store.List(ctx, store.NamespaceAssessments, prefix)
	if err != nil {
		return nil, models.NewPersistenceError(store.NamespaceAssessments, prefix, err)
	}

	var latest *models.QualityAssessment
	for _, key := range keys {
		blob, ok, err := s.store.Get(ctx, store.NamespaceAssessments, key)
		if err != nil {
			return nil, models.NewPersistenceError(store.NamespaceAssessments, key, err)
		}
		if !ok {
			continue
		}
		var a models.QualityAssessment
		if err := json.Unmarshal(blob, &a); err != nil {
			return nil, fmt.Errorf("unmarshal assessment %s: %w", key, err)
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = &a
		}
	}
	return latest, nil
}

// LearnFromOverride records a reviewer's manual re-score. It creates a new
// manual assessment and a correction delta; the original assessment is never
// rewritten. The returned delta feeds the pattern learner's correction path.
func (s *Scorer) LearnFromOverride(ctx context.Context, original *models.QualityAssessment, manual models.SubScores, reasons []string) (*models.QualityAssessment, *models.CorrectionDelta, error) {
	if original == nil {
		return nil, nil, &models.ValidationError{Field: "original", Reason: "must not be nil"}
	}

	override := s.Compute(original.ImageID, manual)
	override.Manual = true
	if err := s.Record(ctx, override); err != nil {
		return nil, nil, err
	}

	delta := &models.CorrectionDelta{
		ImageID:     original.ImageID,
		AutoScore:   original.Overall,
		ManualScore: override.Overall,
		Delta:       override.Overall - original.Overall,
		Reasons:     reasons,
		RecordedAt:  s.now(),
	}

	blob, err := json.Marshal(delta)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal delta: %w", err)
	}
	key := original.ImageID + "/" + override.ID
	if err := s.store.Put(ctx, store.NamespaceDeltas, key, blob); err != nil {
		return nil, nil, models.NewPersistenceError(store.NamespaceDeltas, key, err)
	}

	s.log.Info().
		Str("image", original.ImageID).
		Float64("auto", delta.AutoScore).
		Float64("manual", delta.ManualScore).
		Float64("delta", delta.Delta).
		Msg("quality override recorded")
	return override, delta, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
