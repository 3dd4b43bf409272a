// Package models contains domain models for curio.
package models

import "time"

// Sub-score caps. The four dimensions sum to a 0-100 overall score.
const (
	MaxVisibilityScore  = 40.0
	MaxClarityScore     = 30.0
	MaxTechnicalScore   = 20.0
	MaxEducationalScore = 10.0
)

// SubScores are the four capped dimensions returned by the vision
// assessment capability.
type SubScores struct {
	Visibility  float64 `json:"visibility"`  // 0-40: how visible the diagnostic features are
	Clarity     float64 `json:"clarity"`     // 0-30: focus, lighting, occlusion
	Technical   float64 `json:"technical"`   // 0-20: resolution, compression artifacts
	Educational float64 `json:"educational"` // 0-10: value for teaching vocabulary
}

// QualityAssessment is the scored evaluation of one image. Immutable once
// created: a manual override produces a new assessment plus a
// CorrectionDelta, never a mutation of history.
type QualityAssessment struct {
	ID        string    `json:"id"`
	ImageID   string    `json:"image_id"`
	Scores    SubScores `json:"scores"`
	Overall   float64   `json:"overall"`  // 0-100, sum of capped sub-scores
	Suitable  bool      `json:"suitable"` // overall >= suitability threshold
	Issues    []string  `json:"issues,omitempty"`
	Manual    bool      `json:"manual"` // true when created by reviewer override
	CreatedAt time.Time `json:"created_at"`
}

// CorrectionDelta is the learning signal produced when a reviewer overrides
// an automatic assessment. It records how far off the automatic score was;
// the pattern learner consumes it through the correction path.
type CorrectionDelta struct {
	ImageID     string    `json:"image_id"`
	AutoScore   float64   `json:"auto_score"`
	ManualScore float64   `json:"manual_score"`
	Delta       float64   `json:"delta"` // manual - auto
	Reasons     []string  `json:"reasons,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// QualityConfig contains the quality scorer's tuning knobs.
type QualityConfig struct {
	// SuitabilityThreshold is the minimum overall score for an image to be
	// considered exercise-suitable.
	SuitabilityThreshold float64 `json:"suitability_threshold" yaml:"suitability_threshold"`

	// IssueFraction flags a dimension as weak when its score falls below
	// this fraction of the dimension's cap.
	IssueFraction float64 `json:"issue_fraction" yaml:"issue_fraction"`
}

// DefaultQualityConfig returns the default quality scorer configuration.
func DefaultQualityConfig() *QualityConfig {
	return &QualityConfig{
		SuitabilityThreshold: 60.0,
		IssueFraction:        0.5,
	}
}
