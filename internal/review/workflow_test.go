package review

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/aveslab/curio/internal/learning"
	"github.com/aveslab/curio/internal/store/memory"
	"github.com/aveslab/curio/pkg/models"
)

// WorkflowSuite is a test suite for the review Workflow.
type WorkflowSuite struct {
	suite.Suite
	store    *memory.Store
	learner  *learning.Learner
	workflow *Workflow
	ctx      context.Context
	now      time.Time
}

func (s *WorkflowSuite) SetupTest() {
	s.store = memory.New()
	s.learner = learning.New(s.store, nil, zerolog.Nop())
	s.workflow = NewWorkflow(s.learner, s.store, zerolog.Nop())
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.learner.SetClock(func() time.Time { return s.now })
	s.workflow.SetClock(func() time.Time { return s.now })
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

func (s *WorkflowSuite) begin(id string) *Review {
	r, err := s.workflow.Begin(s.ctx, id, "wing", "parus-major")
	s.Require().NoError(err)
	return r
}

// =============================================================================
// GOOD SCENARIOS - Legal transitions
// =============================================================================

func (s *WorkflowSuite) TestBegin_StartsPending() {
	r := s.begin("ann-1")
	s.Equal(StatePending, r.State)
	s.Equal("wing", r.FeatureName)
	s.Equal(0, r.Corrections)

	loaded, err := s.workflow.Get(s.ctx, "ann-1")
	s.Require().NoError(err)
	s.Equal(StatePending, loaded.State)
}

func (s *WorkflowSuite) TestApprove_FromPending() {
	s.begin("ann-1")

	r, err := s.workflow.Approve(s.ctx, "ann-1")
	s.Require().NoError(err)
	s.Equal(StateApproved, r.State)
}

func (s *WorkflowSuite) TestReject_FromPendingWithCategory() {
	s.begin("ann-1")

	r, err := s.workflow.Reject(s.ctx, "ann-1", models.RejectionNotVisible)
	s.Require().NoError(err)
	s.Equal(StateRejected, r.State)
	s.Equal(models.RejectionNotVisible, r.Category)

	n, err := s.learner.RejectionCount(s.ctx, "wing", "parus-major")
	s.Require().NoError(err)
	s.Equal(1, n, "rejection feeds the rejection pattern counter")
}

func (s *WorkflowSuite) TestCorrect_KeepsPendingAndCounts() {
	s.begin("ann-1")

	pos := models.Position{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2}
	correction, err := s.workflow.Correct(s.ctx, "ann-1", pos, pos, "rev-1")
	s.Require().NoError(err)
	s.NotEmpty(correction.ID)

	r, err := s.workflow.Get(s.ctx, "ann-1")
	s.Require().NoError(err)
	s.Equal(StatePending, r.State, "correction does not resolve the review")
	s.Equal(1, r.Corrections)

	// Correcting and then approving is legal.
	r, err = s.workflow.Approve(s.ctx, "ann-1")
	s.Require().NoError(err)
	s.Equal(StateApproved, r.State)
}

func (s *WorkflowSuite) TestReopen_TerminalStateToUnderReviewAndResolve() {
	s.begin("ann-1")
	_, err := s.workflow.Approve(s.ctx, "ann-1")
	s.Require().NoError(err)

	r, err := s.workflow.Reopen(s.ctx, "ann-1")
	s.Require().NoError(err)
	s.Equal(StateUnderReview, r.State)

	// An under-review annotation can resolve to rejected.
	r, err = s.workflow.Reject(s.ctx, "ann-1", models.RejectionWrongFeature)
	s.Require().NoError(err)
	s.Equal(StateRejected, r.State)
}

func (s *WorkflowSuite) TestTransitions_DriveLearnerConfidence() {
	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		s.begin(id)
		_, err := s.workflow.Approve(s.ctx, id)
		s.Require().NoError(err)
	}

	p, err := s.learner.GetPattern(s.ctx, "wing", "parus-major")
	s.Require().NoError(err)
	s.InDelta(0.65, p.Confidence, 1e-9, "three approvals through the workflow reach 0.65")
}

// =============================================================================
// BAD SCENARIOS - Illegal transitions
// =============================================================================

func (s *WorkflowSuite) TestBegin_DuplicateAnnotation() {
	s.begin("ann-1")
	_, err := s.workflow.Begin(s.ctx, "ann-1", "wing", "parus-major")
	s.True(models.IsValidation(err))
}

func (s *WorkflowSuite) TestApprove_UnknownAnnotation() {
	_, err := s.workflow.Approve(s.ctx, "never-registered")
	s.True(models.IsValidation(err))
}

func (s *WorkflowSuite) TestNoDirectApprovedToRejected() {
	s.begin("ann-1")
	_, err := s.workflow.Approve(s.ctx, "ann-1")
	s.Require().NoError(err)

	_, err = s.workflow.Reject(s.ctx, "ann-1", models.RejectionOther)
	s.True(models.IsValidation(err), "terminal states only change via reopen")
}

func (s *WorkflowSuite) TestCorrect_OnlyWhilePending() {
	s.begin("ann-1")
	_, err := s.workflow.Approve(s.ctx, "ann-1")
	s.Require().NoError(err)

	pos := models.Position{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2}
	_, err = s.workflow.Correct(s.ctx, "ann-1", pos, pos, "rev-1")
	s.True(models.IsValidation(err))
}

func (s *WorkflowSuite) TestReopen_OnlyFromTerminalStates() {
	s.begin("ann-1")
	_, err := s.workflow.Reopen(s.ctx, "ann-1")
	s.True(models.IsValidation(err), "pending reviews cannot be reopened")
}

func (s *WorkflowSuite) TestBegin_MissingFields() {
	_, err := s.workflow.Begin(s.ctx, "", "wing", "parus-major")
	s.True(models.IsValidation(err))

	_, err = s.workflow.Begin(s.ctx, "ann-1", "", "parus-major")
	s.True(models.IsValidation(err))
}

func (s *WorkflowSuite) TestApply_DispatchesReviewerActions() {
	s.begin("ann-1")
	pos := models.Position{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2}

	r, err := s.workflow.Apply(s.ctx, "ann-1", Feedback{
		Action:     models.ActionCorrect,
		Original:   pos,
		Corrected:  pos,
		ReviewerID: "rev-1",
	})
	s.Require().NoError(err)
	s.Equal(StatePending, r.State)
	s.Equal(1, r.Corrections)

	r, err = s.workflow.Apply(s.ctx, "ann-1", Feedback{Action: models.ActionApprove})
	s.Require().NoError(err)
	s.Equal(StateApproved, r.State)

	s.begin("ann-2")
	r, err = s.workflow.Apply(s.ctx, "ann-2", Feedback{
		Action:   models.ActionReject,
		Category: models.RejectionBadPosition,
	})
	s.Require().NoError(err)
	s.Equal(StateRejected, r.State)
	s.Equal(models.RejectionBadPosition, r.Category)
}

func (s *WorkflowSuite) TestApply_UnknownAction() {
	s.begin("ann-1")
	_, err := s.workflow.Apply(s.ctx, "ann-1", Feedback{Action: "archive"})
	s.True(models.IsValidation(err))
}

func (s *WorkflowSuite) TestConcurrentApprovals_RecordSignalOnce() {
	s.begin("ann-1")

	var wg sync.WaitGroup
	var approved atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.workflow.Approve(s.ctx, "ann-1"); err == nil {
				approved.Add(1)
			}
		}()
	}
	wg.Wait()

	s.EqualValues(1, approved.Load(), "only one racer may win the pending transition")

	// Two more approvals of the same pair reach exactly three samples: a
	// double-counted signal would have pushed confidence past 0.65.
	s.begin("ann-2")
	s.begin("ann-3")
	_, err := s.workflow.Approve(s.ctx, "ann-2")
	s.Require().NoError(err)
	_, err = s.workflow.Approve(s.ctx, "ann-3")
	s.Require().NoError(err)

	p, err := s.learner.GetPattern(s.ctx, "wing", "parus-major")
	s.Require().NoError(err)
	s.Equal(3, p.SampleCount)
	s.InDelta(0.65, p.Confidence, 1e-9)
}

// failingStore wraps a memory store and fails every write.
type failingStore struct {
	*memory.Store
}

func (f *failingStore) Put(context.Context, string, string, []byte) error {
	return errors.New("disk full")
}

func (s *WorkflowSuite) TestStoreWriteFailure_SurfacesAsPersistenceError() {
	broken := NewWorkflow(s.learner, &failingStore{Store: memory.New()}, zerolog.Nop())
	broken.SetClock(func() time.Time { return s.now })

	_, err := broken.Begin(s.ctx, "ann-1", "wing", "parus-major")
	s.True(models.IsPersistence(err))
}

func (s *WorkflowSuite) TestLearnerWriteFailure_LeavesReviewPending() {
	brokenLearner := learning.New(&failingStore{Store: memory.New()}, nil, zerolog.Nop())
	brokenLearner.SetClock(func() time.Time { return s.now })
	wf := NewWorkflow(brokenLearner, s.store, zerolog.Nop())
	wf.SetClock(func() time.Time { return s.now })

	_, err := wf.Begin(s.ctx, "ann-1", "wing", "parus-major")
	s.Require().NoError(err)

	_, err = wf.Approve(s.ctx, "ann-1")
	s.True(models.IsPersistence(err))

	loaded, err := wf.Get(s.ctx, "ann-1")
	s.Require().NoError(err)
	s.Equal(StatePending, loaded.State)
}
