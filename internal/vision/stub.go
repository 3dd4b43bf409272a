package vision

import (
	"context"

	"github.com/aveslab/curio/pkg/models"
)

// NewStubAssessor returns an assessor producing fixed mid-range scores.
// Used in development setups without vision API credentials; every image is
// marked so downstream consumers can tell stub output from real assessments.
func NewStubAssessor() Assessor {
	return AssessorFunc(func(_ context.Context, _ ImageRef) (*Result, error) {
		return &Result{
			Scores: models.SubScores{Visibility: 28, Clarity: 21, Technical: 14, Educational: 7},
			Issues: []string{"stub assessment: vision provider not configured"},
		}, nil
	})
}
