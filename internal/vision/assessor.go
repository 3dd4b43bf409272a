// Package vision integrates the external vision-assessment capability: a
// synchronous per-image call returning four quality sub-scores, plus a
// batch runner with bounded concurrency, throttling, and retry.
package vision

import (
	"context"

	"github.com/aveslab/curio/pkg/models"
)

// ImageRef identifies one image to assess. Data holds the raw bytes;
// adapters handle encoding for their transport.
type ImageRef struct {
	ImageID   string
	SpeciesID string
	MediaType string // e.g. "image/jpeg"
	Data      []byte
}

// Result is the raw outcome of one assessment call, before the quality
// scorer turns it into a recorded QualityAssessment.
type Result struct {
	Scores models.SubScores
	Issues []string
}

// Assessor is the vision-assessment capability. One synchronous call per
// image; implementations must respect ctx for timeout and cancellation.
// Failures that may succeed on retry are reported as models.TransientError.
type Assessor interface {
	Assess(ctx context.Context, img ImageRef) (*Result, error)
}

// AssessorFunc adapts a function to the Assessor interface.
type AssessorFunc func(ctx context.Context, img ImageRef) (*Result, error)

// Assess calls f.
func (f AssessorFunc) Assess(ctx context.Context, img ImageRef) (*Result, error) {
	return f(ctx, img)
}
