// Package models contains domain models for curio.
package models

import "time"

// Position is a normalized bounding box for an annotated feature.
// Coordinates are fractions of the image dimensions in [0,1].
type Position struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the center point of the box.
func (p Position) Center() (float64, float64) {
	return p.X + p.Width/2, p.Y + p.Height/2
}

// Annotation is a labeled feature attached to an image: a position plus the
// vocabulary term it teaches.
type Annotation struct {
	ID          string    `json:"id"`
	ImageID     string    `json:"image_id"`
	FeatureName string    `json:"feature_name"` // e.g. "beak", "wing-bar"
	SpeciesID   string    `json:"species_id"`
	Term        string    `json:"term"` // vocabulary term shown to learners
	Position    Position  `json:"position"`
	Generated   bool      `json:"generated"` // machine-generated vs hand-drawn
	CreatedAt   time.Time `json:"created_at"`
}

// Orientation describes the subject's pose in an image, when known.
type Orientation string

const (
	OrientationSide    Orientation = "side"
	OrientationFrontal Orientation = "frontal"
	OrientationUnknown Orientation = ""
)

// Candidate is an image with its annotations, offered to the recommendation
// engine for reuse in a generated exercise. The engine treats it as read-only.
type Candidate struct {
	ImageID     string       `json:"image_id"`
	SpeciesID   string       `json:"species_id"`
	Annotations []Annotation `json:"annotations"`
	Orientation Orientation  `json:"orientation,omitempty"`

	// Quality is the candidate's assessment, if one exists. Nil means
	// quality-unknown: the candidate is excluded from quality boosts but
	// is not scored as zero.
	Quality *QualityAssessment `json:"quality,omitempty"`

	// UsageCount and SuccessCount track prior appearances in exercises and
	// how many of those met the success criterion.
	UsageCount   int `json:"usage_count"`
	SuccessCount int `json:"success_count"`

	CreatedAt time.Time `json:"created_at"`
}

// Vocabulary returns the distinct terms this candidate's annotations teach.
func (c *Candidate) Vocabulary() []string {
	seen := make(map[string]bool, len(c.Annotations))
	var terms []string
	for _, a := range c.Annotations {
		t := a.Term
		if t == "" {
			t = a.FeatureName
		}
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	return terms
}

// HistoricalSuccess returns the candidate's prior exercise success rate,
// or 0 when it has never been used.
func (c *Candidate) HistoricalSuccess() float64 {
	if c.UsageCount == 0 {
		return 0
	}
	return float64(c.SuccessCount) / float64(c.UsageCount)
}

// ExerciseType selects the relevance rules applied when ranking candidates.
type ExerciseType string

const (
	// ExerciseDiscrimination asks learners to tell similar species apart.
	// Needs richly annotated, high-quality images.
	ExerciseDiscrimination ExerciseType = "discrimination"
	// ExerciseIdentification asks "which species is this"; a single clear
	// feature suffices.
	ExerciseIdentification ExerciseType = "identification"
	// ExerciseLabeling asks learners to place terms on an image.
	ExerciseLabeling ExerciseType = "labeling"
	// ExerciseComparison shows two images side by side.
	ExerciseComparison ExerciseType = "comparison"
)

// ValidExerciseType reports whether t is a known exercise type.
func ValidExerciseType(t ExerciseType) bool {
	switch t {
	case ExerciseDiscrimination, ExerciseIdentification, ExerciseLabeling, ExerciseComparison:
		return true
	}
	return false
}
