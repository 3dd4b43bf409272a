package vision

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aveslab/curio/internal/quality"
	"github.com/aveslab/curio/pkg/models"
)

// BatchConfig contains the batch runner's tuning knobs.
type BatchConfig struct {
	// Concurrency bounds in-flight assessment calls (default 4).
	Concurrency int `json:"concurrency" yaml:"concurrency"`
	// RatePerSec throttles calls against the vision capability (default 2).
	RatePerSec float64 `json:"rate_per_sec" yaml:"rate_per_sec"`
	// Burst is the token-bucket burst size (default 4).
	Burst int `json:"burst" yaml:"burst"`
	// MaxAttempts bounds retries per image, including the first try (default 3).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
	// BaseBackoff is the first retry delay; doubled per attempt (default 500ms).
	BaseBackoff time.Duration `json:"base_backoff" yaml:"base_backoff"`
	// ItemTimeout bounds one assessment call (default 30s).
	ItemTimeout time.Duration `json:"item_timeout" yaml:"item_timeout"`
	// JobRetention is how long finished jobs stay queryable (default 1h).
	JobRetention time.Duration `json:"job_retention" yaml:"job_retention"`
}

// DefaultBatchConfig returns the default batch configuration.
func DefaultBatchConfig() *BatchConfig {
	return &BatchConfig{
		Concurrency:  4,
		RatePerSec:   2,
		Burst:        4,
		MaxAttempts:  3,
		BaseBackoff:  500 * time.Millisecond,
		ItemTimeout:  30 * time.Second,
		JobRetention: time.Hour,
	}
}

// JobStatus is the lifecycle state of a batch job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
)

// BatchJob tracks one batch assessment run. Each image is assessed
// independently; a failed image is retried, then recorded and skipped,
// never aborting the batch.
type BatchJob struct {
	ID    string
	Total int

	mu         sync.Mutex
	status     JobStatus
	assessed   map[string]*models.QualityAssessment
	failed     map[string]string // imageID -> final error text
	cancelled  bool
	startedAt  time.Time
	finishedAt time.Time
}

// JobSnapshot is a point-in-time copy of a job's state, safe to serialize.
type JobSnapshot struct {
	ID         string                               `json:"id"`
	Status     JobStatus                            `json:"status"`
	Total      int                                  `json:"total"`
	Assessed   map[string]*models.QualityAssessment `json:"assessed"`
	Failed     map[string]string                    `json:"failed,omitempty"`
	StartedAt  time.Time                            `json:"started_at"`
	FinishedAt time.Time                            `json:"finished_at"`
}

// Snapshot returns a copy of the job's current state.
func (j *BatchJob) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	assessed := make(map[string]*models.QualityAssessment, len(j.assessed))
	for k, v := range j.assessed {
		assessed[k] = v
	}
	failed := make(map[string]string, len(j.failed))
	for k, v := range j.failed {
		failed[k] = v
	}
	return JobSnapshot{
		ID:         j.ID,
		Status:     j.status,
		Total:      j.Total,
		Assessed:   assessed,
		Failed:     failed,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
	}
}

// Cancel marks the job cancelled. No new items start; in-flight items
// complete and their results are kept.
func (j *BatchJob) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == JobRunning {
		j.cancelled = true
	}
}

func (j *BatchJob) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

func (j *BatchJob) recordSuccess(imageID string, a *models.QualityAssessment) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.assessed[imageID] = a
}

func (j *BatchJob) recordFailure(imageID string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failed[imageID] = err.Error()
}

func (j *BatchJob) finish(now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelled {
		j.status = JobCancelled
	} else {
		j.status = JobCompleted
	}
	j.finishedAt = now
}

// Runner executes batch assessments with bounded concurrency, a token-bucket
// throttle on the external capability, and per-item retry with exponential
// backoff. Jobs are tracked in an explicit, queryable registry rather than
// ambient global state.
type Runner struct {
	config   *BatchConfig
	assessor Assessor
	scorer   *quality.Scorer
	limiter  *rate.Limiter
	log      zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	jobsMu sync.RWMutex
	jobs   map[string]*BatchJob
}

// NewRunner creates a batch runner. If config is nil, uses the default
// configuration.
func NewRunner(assessor Assessor, scorer *quality.Scorer, config *BatchConfig, log zerolog.Logger) *Runner {
	if config == nil {
		config = DefaultBatchConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		config:   config,
		assessor: assessor,
		scorer:   scorer,
		limiter:  rate.NewLimiter(rate.Limit(config.RatePerSec), config.Burst),
		log:      log.With().Str("component", "batch-assessor").Logger(),
		baseCtx:  ctx,
		cancel:   cancel,
		jobs:     make(map[string]*BatchJob),
	}
}

// Close stops all jobs. In-flight calls are cancelled via the base context.
func (r *Runner) Close() { r.cancel() }

// Start launches a batch job and returns immediately. The job runs detached
// from the caller's request; query it via Job and the returned ID.
func (r *Runner) Start(images []ImageRef) *BatchJob {
	job := &BatchJob{
		ID:        uuid.NewString(),
		Total:     len(images),
		status:    JobRunning,
		assessed:  make(map[string]*models.QualityAssessment),
		failed:    make(map[string]string),
		startedAt: time.Now(),
	}

	r.jobsMu.Lock()
	r.pruneLocked(time.Now())
	r.jobs[job.ID] = job
	r.jobsMu.Unlock()

	go r.run(job, images)
	return job
}

// Job returns a tracked job by ID.
func (r *Runner) Job(id string) (*BatchJob, bool) {
	r.jobsMu.RLock()
	defer r.jobsMu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

// pruneLocked drops finished jobs past the retention window.
// Caller holds jobsMu.
func (r *Runner) pruneLocked(now time.Time) {
	for id, job := range r.jobs {
		job.mu.Lock()
		done := job.status != JobRunning && !job.finishedAt.IsZero() &&
			now.Sub(job.finishedAt) > r.config.JobRetention
		job.mu.Unlock()
		if done {
			delete(r.jobs, id)
		}
	}
}

func (r *Runner) run(job *BatchJob, images []ImageRef) {
	g, ctx := errgroup.WithContext(r.baseCtx)
	g.SetLimit(r.config.Concurrency)

	for _, img := range images {
		img := img
		if job.isCancelled() {
			break
		}
		g.Go(func() error {
			if job.isCancelled() {
				return nil
			}
			r.assessOne(ctx, job, img)
			return nil // item failures never abort the batch
		})
	}

	_ = g.Wait()
	job.finish(time.Now())

	snap := job.Snapshot()
	r.log.Info().
		Str("job", job.ID).
		Str("status", string(snap.Status)).
		Int("total", snap.Total).
		Int("assessed", len(snap.Assessed)).
		Int("failed", len(snap.Failed)).
		Msg("batch assessment finished")
}

// assessOne assesses a single image with throttling and bounded retries.
func (r *Runner) assessOne(ctx context.Context, job *BatchJob, img ImageRef) {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			job.recordFailure(img.ImageID, err)
			return
		}

		itemCtx, cancel := context.WithTimeout(ctx, r.config.ItemTimeout)
		result, err := r.assessor.Assess(itemCtx, img)
		cancel()

		if err == nil {
			assessment := r.scorer.Compute(img.ImageID, result.Scores)
			assessment.Issues = append(assessment.Issues, result.Issues...)
			if err := r.scorer.Record(ctx, assessment); err != nil {
				job.recordFailure(img.ImageID, err)
				return
			}
			job.recordSuccess(img.ImageID, assessment)
			return
		}

		lastErr = err
		if !models.IsTransient(err) || attempt == r.config.MaxAttempts {
			break
		}

		backoff := r.config.BaseBackoff << (attempt - 1)
		r.log.Warn().
			Str("image", img.ImageID).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Err(err).
			Msg("assessment failed, retrying")

		select {
		case <-ctx.Done():
			job.recordFailure(img.ImageID, ctx.Err())
			return
		case <-time.After(backoff):
		}
	}

	// Exhausted: the image stays quality-unknown, not zero-scored.
	job.recordFailure(img.ImageID, lastErr)
}
