// Package models contains domain models for curio.
package models

import "time"

// FeedbackAction is the kind of reviewer action applied to an annotation.
type FeedbackAction string

const (
	// ActionApprove accepts a machine-generated annotation as-is.
	ActionApprove FeedbackAction = "approve"
	// ActionReject discards an annotation, with a category explaining why.
	ActionReject FeedbackAction = "reject"
	// ActionCorrect keeps the annotation but fixes its bounding box.
	// Corrections carry richer signal than plain approvals.
	ActionCorrect FeedbackAction = "correct"
)

// ValidFeedbackAction reports whether a is a known action.
func ValidFeedbackAction(a FeedbackAction) bool {
	switch a {
	case ActionApprove, ActionReject, ActionCorrect:
		return true
	}
	return false
}

// RejectionCategory classifies why a reviewer rejected an annotation.
type RejectionCategory string

const (
	RejectionWrongFeature  RejectionCategory = "wrong_feature"
	RejectionBadPosition   RejectionCategory = "bad_position"
	RejectionNotVisible    RejectionCategory = "not_visible"
	RejectionWrongSpecies  RejectionCategory = "wrong_species"
	RejectionLowConfidence RejectionCategory = "low_confidence"
	RejectionOther         RejectionCategory = "other"
)

// LearnedPattern holds the aggregated learning state for one
// (feature, species) pair. Confidence is bounded [0,1] and is only
// authoritative once SampleCount reaches the configured minimum; below
// that, the learner reports insufficient data instead.
//
// Patterns are never hard-deleted. When idle they decay multiplicatively
// toward the neutral baseline, so stale signal fades rather than lingering.
type LearnedPattern struct {
	FeatureName string  `json:"feature_name"`
	SpeciesID   string  `json:"species_id"`
	Confidence  float64 `json:"confidence"`
	SampleCount int     `json:"sample_count"`
	Approvals   int     `json:"approvals"`
	Rejections  int     `json:"rejections"`
	Corrections int     `json:"corrections"`

	// Positional statistics over corrected/approved box centers, maintained
	// with Welford's online algorithm.
	PosMeanX float64 `json:"pos_mean_x"`
	PosMeanY float64 `json:"pos_mean_y"`
	PosM2X   float64 `json:"pos_m2_x"`
	PosM2Y   float64 `json:"pos_m2_y"`
	PosCount int     `json:"pos_count"`

	LastUpdatedAt time.Time `json:"last_updated_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewLearnedPattern creates a pattern at the neutral baseline.
func NewLearnedPattern(featureName, speciesID string, baseline float64, now time.Time) *LearnedPattern {
	return &LearnedPattern{
		FeatureName:   featureName,
		SpeciesID:     speciesID,
		Confidence:    baseline,
		LastUpdatedAt: now,
		CreatedAt:     now,
	}
}

// ObservePosition folds one observed box center into the running positional
// statistics.
func (p *LearnedPattern) ObservePosition(pos Position) {
	cx, cy := pos.Center()
	p.PosCount++
	n := float64(p.PosCount)
	dx := cx - p.PosMeanX
	p.PosMeanX += dx / n
	p.PosM2X += dx * (cx - p.PosMeanX)
	dy := cy - p.PosMeanY
	p.PosMeanY += dy / n
	p.PosM2Y += dy * (cy - p.PosMeanY)
}

// PositionVariance returns the sample variance of observed box centers.
// Zero until at least two positions have been observed.
func (p *LearnedPattern) PositionVariance() (float64, float64) {
	if p.PosCount < 2 {
		return 0, 0
	}
	n := float64(p.PosCount - 1)
	return p.PosM2X / n, p.PosM2Y / n
}

// ApprovalRate returns the fraction of approve/correct actions among all
// recorded actions, or 0 with no samples.
func (p *LearnedPattern) ApprovalRate() float64 {
	if p.SampleCount == 0 {
		return 0
	}
	return float64(p.Approvals+p.Corrections) / float64(p.SampleCount)
}

// PositionCorrection is an immutable record of one manual bounding-box edit.
type PositionCorrection struct {
	ID          string    `json:"id"`
	FeatureName string    `json:"feature_name"`
	SpeciesID   string    `json:"species_id"`
	Original    Position  `json:"original"`
	Corrected   Position  `json:"corrected"`
	ReviewerID  string    `json:"reviewer_id"`
	Weight      float64   `json:"weight"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// RejectionPattern counts rejections per (category, feature, species).
// Repeatedly failing combinations get de-prioritized in feature
// recommendations and pattern adjustments.
type RejectionPattern struct {
	Category    RejectionCategory `json:"category"`
	FeatureName string            `json:"feature_name"`
	SpeciesID   string            `json:"species_id"`
	Count       int               `json:"count"`
	LastSeenAt  time.Time         `json:"last_seen_at"`
}

// SpeciesFeatureStats tracks annotation coverage per (species, feature):
// how often the feature has been annotated for the species and how often
// review approved it. Low occurrence plus low approval marks a feature as
// under-annotated.
type SpeciesFeatureStats struct {
	SpeciesID   string    `json:"species_id"`
	FeatureName string    `json:"feature_name"`
	Occurrences int       `json:"occurrences"`
	Approved    int       `json:"approved"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ApprovalRate returns the approval fraction, or 0 with no occurrences.
func (s *SpeciesFeatureStats) ApprovalRate() float64 {
	if s.Occurrences == 0 {
		return 0
	}
	return float64(s.Approved) / float64(s.Occurrences)
}

// VocabularyGap is a target feature with insufficient annotation coverage
// for a species, ordered by priority (most underserved first).
type VocabularyGap struct {
	SpeciesID   string  `json:"species_id"`
	FeatureName string  `json:"feature_name"`
	Coverage    int     `json:"coverage"` // current annotation count
	Target      int     `json:"target"`   // configured coverage goal
	Priority    float64 `json:"priority"` // higher = more urgent
}

// LearningConfig contains the pattern learner's tuning knobs. The numeric
// defaults are product tuning values, not derived constants; adjust them
// via configuration rather than editing call sites.
type LearningConfig struct {
	// ApprovalBoost is added to confidence on each approval.
	ApprovalBoost float64 `json:"approval_boost" yaml:"approval_boost"`

	// RejectionPenalty is subtracted from confidence on each rejection.
	// Larger than ApprovalBoost: rejections are stronger evidence.
	RejectionPenalty float64 `json:"rejection_penalty" yaml:"rejection_penalty"`

	// CorrectionWeight scales ApprovalBoost for corrections, which carry
	// positional information a same-as-suggested approval does not.
	CorrectionWeight float64 `json:"correction_weight" yaml:"correction_weight"`

	// NeutralBaseline is the prior confidence for new patterns and the
	// value idle patterns decay toward.
	NeutralBaseline float64 `json:"neutral_baseline" yaml:"neutral_baseline"`

	// DecayFactor is the multiplicative shrinkage toward the baseline
	// applied once per elapsed idle cycle.
	DecayFactor float64 `json:"decay_factor" yaml:"decay_factor"`

	// IdleCycle is the wall-clock span of one decay cycle. Decay is
	// time-based: a pattern untouched for N whole cycles is decayed N
	// times, lazily, before its next read or update.
	IdleCycle time.Duration `json:"idle_cycle" yaml:"idle_cycle"`

	// MinSamples gates authoritative reads: below this count GetPattern
	// reports insufficient data.
	MinSamples int `json:"min_samples" yaml:"min_samples"`

	// MaxRecommendations bounds the feature recommendation list per species.
	MaxRecommendations int `json:"max_recommendations" yaml:"max_recommendations"`

	// TargetVocabulary is the canonical feature set every species should
	// have annotated. Vocabulary-gap detection compares per-species
	// coverage against this list.
	TargetVocabulary []string `json:"target_vocabulary" yaml:"target_vocabulary"`

	// CoverageGoal is the annotation count per (species, feature) at which
	// a feature stops being a vocabulary gap.
	CoverageGoal int `json:"coverage_goal" yaml:"coverage_goal"`
}

// DefaultLearningConfig returns the default learner configuration.
func DefaultLearningConfig() *LearningConfig {
	return &LearningConfig{
		ApprovalBoost:      0.05,
		RejectionPenalty:   0.10,
		CorrectionWeight:   1.5,
		NeutralBaseline:    0.5,
		DecayFactor:        0.95,
		IdleCycle:          7 * 24 * time.Hour,
		MinSamples:         3,
		MaxRecommendations: 10,
		TargetVocabulary: []string{
			"beak", "crown", "wing", "wing-bar", "tail",
			"breast", "throat", "eye-ring", "legs", "rump",
			"nape", "flank",
		},
		CoverageGoal: 5,
	}
}
