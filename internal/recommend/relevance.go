package recommend

import (
	"fmt"

	"github.com/aveslab/curio/pkg/models"
)

// relevanceFor applies the exercise-type-specific relevance rules to one
// candidate. quality is the candidate's overall score normalized to [0,1];
// qualityKnown is false when the image has no assessment, in which case
// quality gates that require a certified score do not pass.
func (e *Engine) relevanceFor(c *models.Candidate, exerciseType models.ExerciseType, quality float64, qualityKnown bool) (float64, []string) {
	rc := e.config.Relevance
	features := distinctFeatures(c)
	count := len(c.Annotations)

	var score float64
	var notes []string

	switch exerciseType {
	case models.ExerciseDiscrimination:
		// Telling similar species apart needs rich annotation and
		// certified quality; anything less scores zero relevance.
		if features < rc.DiscriminationMinFeatures {
			return 0, []string{fmt.Sprintf("not suitable for discrimination: %d distinct features, need %d", features, rc.DiscriminationMinFeatures)}
		}
		if !qualityKnown || quality <= rc.DiscriminationQualityFloor {
			return 0, []string{"not suitable for discrimination: quality not certified above floor"}
		}
		score = rc.DiscriminationBase
		notes = append(notes, "suitable for discrimination")
		if c.Orientation == models.OrientationSide {
			score += rc.SideViewBonus
			notes = append(notes, "clear side view")
		}

	case models.ExerciseIdentification:
		if features < 1 {
			return 0, []string{"not suitable for identification: no annotated features"}
		}
		if qualityKnown && quality <= rc.IdentificationQualityFloor {
			return 0, []string{"not suitable for identification: quality below floor"}
		}
		score = rc.IdentificationBase
		notes = append(notes, "suitable for identification")
		if c.Orientation == models.OrientationFrontal {
			score += rc.FrontalBonus
			notes = append(notes, "frontal pose")
		}

	case models.ExerciseLabeling:
		if features < rc.LabelingMinFeatures {
			return 0, []string{fmt.Sprintf("not suitable for labeling: %d distinct features, need %d", features, rc.LabelingMinFeatures)}
		}
		score = rc.LabelingBase
		notes = append(notes, "suitable for labeling")

	case models.ExerciseComparison:
		if features < rc.ComparisonMinFeatures {
			return 0, []string{fmt.Sprintf("not suitable for comparison: %d distinct features, need %d", features, rc.ComparisonMinFeatures)}
		}
		score = rc.ComparisonBase
		notes = append(notes, "suitable for comparison")
		if c.Orientation == models.OrientationSide {
			score += rc.SideViewBonus
			notes = append(notes, "clear side view")
		}

	default:
		return 0, []string{"unknown exercise type"}
	}

	// Small capped bonus for annotation richness.
	bonus := rc.AnnotationBonus * float64(count)
	if bonus > rc.AnnotationBonusCap {
		bonus = rc.AnnotationBonusCap
	}
	score += bonus

	if score > 1 {
		score = 1
	}
	return score, notes
}

// distinctFeatures counts the distinct feature names annotated on a candidate.
func distinctFeatures(c *models.Candidate) int {
	seen := make(map[string]bool, len(c.Annotations))
	for _, a := range c.Annotations {
		seen[a.FeatureName] = true
	}
	return len(seen)
}
