// Package review implements the reviewer feedback workflow: the annotation
// state machine whose transitions drive pattern learning.
package review

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/aveslab/curio/internal/learning"
	"github.com/aveslab/curio/internal/store"
	"github.com/aveslab/curio/pkg/models"
)

// State is the review lifecycle state of an annotation.
type State string

const (
	// StatePending awaits reviewer action. Corrections may happen here
	// without changing state.
	StatePending State = "pending"
	// StateApproved and StateRejected are terminal for reviewers; only an
	// administrative override moves past them.
	StateApproved State = "approved"
	StateRejected State = "rejected"
	// StateUnderReview is reachable from either terminal state via
	// administrative override, and resolves back to approved or rejected.
	StateUnderReview State = "under_review"
)

// Review is the persisted review state of one annotation.
type Review struct {
	AnnotationID string                   `json:"annotation_id"`
	FeatureName  string                   `json:"feature_name"`
	SpeciesID    string                   `json:"species_id"`
	State        State                    `json:"state"`
	Category     models.RejectionCategory `json:"category,omitempty"`
	Corrections  int                      `json:"corrections"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

// lockStripes is the number of mutexes annotation IDs are hashed across.
const lockStripes = 64

// Workflow validates transitions and forwards their learning side effects.
type Workflow struct {
	learner *learning.Learner
	store   store.Store
	log     zerolog.Logger
	now     func() time.Time

	// stripes serialize the load-check-save sequence per annotation, so
	// two concurrent transitions of one annotation see each other's state
	// and the learning signal is recorded at most once per transition.
	stripes [lockStripes]sync.Mutex
}

// NewWorkflow creates a review workflow over the learner and store.
func NewWorkflow(learner *learning.Learner, st store.Store, log zerolog.Logger) *Workflow {
	return &Workflow{
		learner: learner,
		store:   st,
		log:     log.With().Str("component", "review").Logger(),
		now:     time.Now,
	}
}

// SetClock replaces the workflow's clock. Test helper.
func (w *Workflow) SetClock(now func() time.Time) { w.now = now }

func (w *Workflow) lockFor(annotationID string) *sync.Mutex {
	return &w.stripes[xxhash.Sum64String(annotationID)%lockStripes]
}

// Begin registers a new annotation as pending review.
func (w *Workflow) Begin(ctx context.Context, annotationID, featureName, speciesID string) (*Review, error) {
	if annotationID == "" {
		return nil, &models.ValidationError{Field: "annotation_id", Reason: "must not be empty"}
	}
	if featureName == "" || speciesID == "" {
		return nil, &models.ValidationError{Field: "annotation", Reason: "feature_name and species_id are required"}
	}

	mu := w.lockFor(annotationID)
	mu.Lock()
	defer mu.Unlock()

	if existing, err := w.Get(ctx, annotationID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, &models.ValidationError{Field: "annotation_id", Reason: "review already exists"}
	}

	now := w.now()
	r := &Review{
		AnnotationID: annotationID,
		FeatureName:  featureName,
		SpeciesID:    speciesID,
		State:        StatePending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := w.save(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the review for an annotation, or nil if none exists.
func (w *Workflow) Get(ctx context.Context, annotationID string) (*Review, error) {
	blob, ok, err := w.store.Get(ctx, store.NamespaceReviews, annotationID)
	if err != nil {
		return nil, models.NewPersistenceError(store.NamespaceReviews, annotationID, err)
	}
	if !ok {
		return nil, nil
	}
	var r Review
	if err := json.Unmarshal(blob, &r); err != nil {
		return nil, fmt.Errorf("unmarshal review %s: %w", annotationID, err)
	}
	return &r, nil
}

func (w *Workflow) save(ctx context.Context, r *Review) error {
	blob, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal review: %w", err)
	}
	if err := w.store.Put(ctx, store.NamespaceReviews, r.AnnotationID, blob); err != nil {
		return models.NewPersistenceError(store.NamespaceReviews, r.AnnotationID, err)
	}
	return nil
}

// mustBe loads the review and checks its state is one of the allowed ones.
func (w *Workflow) mustBe(ctx context.Context, annotationID string, allowed ...State) (*Review, error) {
	r, err := w.Get(ctx, annotationID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, &models.ValidationError{Field: "annotation_id", Reason: "no review found"}
	}
	for _, s := range allowed {
		if r.State == s {
			return r, nil
		}
	}
	return nil, &models.ValidationError{
		Field:  "state",
		Reason: fmt.Sprintf("cannot transition from %s", r.State),
	}
}

// Approve moves Pending (or UnderReview, when resolving an override) to
// Approved and records the positive learning signal. The learner update
// happens first: if it cannot be persisted the state does not change and
// the caller sees the PersistenceError.
func (w *Workflow) Approve(ctx context.Context, annotationID string) (*Review, error) {
	mu := w.lockFor(annotationID)
	mu.Lock()
	defer mu.Unlock()

	r, err := w.mustBe(ctx, annotationID, StatePending, StateUnderReview)
	if err != nil {
		return nil, err
	}

	if err := w.learner.RecordApproval(ctx, r.FeatureName, r.SpeciesID); err != nil {
		return nil, err
	}

	r.State = StateApproved
	r.Category = ""
	r.UpdatedAt = w.now()
	if err := w.save(ctx, r); err != nil {
		return nil, err
	}

	w.log.Info().Str("annotation", annotationID).Msg("annotation approved")
	return r, nil
}

// Reject moves Pending (or UnderReview) to Rejected with a category,
// recording the negative signal and the rejection-pattern increment.
func (w *Workflow) Reject(ctx context.Context, annotationID string, category models.RejectionCategory) (*Review, error) {
	mu := w.lockFor(annotationID)
	mu.Lock()
	defer mu.Unlock()

	r, err := w.mustBe(ctx, annotationID, StatePending, StateUnderReview)
	if err != nil {
		return nil, err
	}

	if err := w.learner.RecordRejection(ctx, r.FeatureName, r.SpeciesID, category); err != nil {
		return nil, err
	}

	r.State = StateRejected
	r.Category = category
	r.UpdatedAt = w.now()
	if err := w.save(ctx, r); err != nil {
		return nil, err
	}

	w.log.Info().
		Str("annotation", annotationID).
		Str("category", string(category)).
		Msg("annotation rejected")
	return r, nil
}

// Correct records a bounding-box edit while the annotation is still pending.
// The state does not change; the correction ledger and positional statistics
// absorb the edit.
func (w *Workflow) Correct(ctx context.Context, annotationID string, original, corrected models.Position, reviewerID string) (*models.PositionCorrection, error) {
	mu := w.lockFor(annotationID)
	mu.Lock()
	defer mu.Unlock()

	r, err := w.mustBe(ctx, annotationID, StatePending)
	if err != nil {
		return nil, err
	}

	correction, err := w.learner.RecordCorrection(ctx, r.FeatureName, r.SpeciesID, original, corrected, reviewerID)
	if err != nil {
		return nil, err
	}

	r.Corrections++
	r.UpdatedAt = w.now()
	if err := w.save(ctx, r); err != nil {
		return nil, err
	}
	return correction, nil
}

// Reopen is the administrative override: it moves a terminal review back to
// UnderReview. There is no direct Approved -> Rejected transition; an
// override must pass through here.
func (w *Workflow) Reopen(ctx context.Context, annotationID string) (*Review, error) {
	mu := w.lockFor(annotationID)
	mu.Lock()
	defer mu.Unlock()

	r, err := w.mustBe(ctx, annotationID, StateApproved, StateRejected)
	if err != nil {
		return nil, err
	}

	r.State = StateUnderReview
	r.UpdatedAt = w.now()
	if err := w.save(ctx, r); err != nil {
		return nil, err
	}

	w.log.Info().Str("annotation", annotationID).Msg("review reopened by override")
	return r, nil
}

// Feedback is one reviewer action routed through the single Apply
// entrypoint. Category is required for rejections; the position pair and
// reviewer ID are required for corrections.
type Feedback struct {
	Action     models.FeedbackAction    `json:"action"`
	Category   models.RejectionCategory `json:"category,omitempty"`
	Original   models.Position          `json:"original,omitempty"`
	Corrected  models.Position          `json:"corrected,omitempty"`
	ReviewerID string                   `json:"reviewer_id,omitempty"`
}

// Apply dispatches a reviewer action to the matching transition and returns
// the review as it stands afterwards.
func (w *Workflow) Apply(ctx context.Context, annotationID string, fb Feedback) (*Review, error) {
	if !models.ValidFeedbackAction(fb.Action) {
		return nil, &models.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", fb.Action)}
	}

	switch fb.Action {
	case models.ActionApprove:
		return w.Approve(ctx, annotationID)
	case models.ActionReject:
		return w.Reject(ctx, annotationID, fb.Category)
	default: // models.ActionCorrect
		if _, err := w.Correct(ctx, annotationID, fb.Original, fb.Corrected, fb.ReviewerID); err != nil {
			return nil, err
		}
		return w.Get(ctx, annotationID)
	}
}
