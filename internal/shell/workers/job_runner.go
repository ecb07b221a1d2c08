// Package workers contains background workers for the exam backend.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/examai/backend/internal/core/domain"
	"github.com/examai/backend/internal/shell/store"
)

// Processor runs OCR and generation for a stored upload.
type Processor interface {
	ProcessStored(ctx context.Context, job *domain.Job) (*domain.ExamPaper, int, error)
}

// JobRunnerConfig configures the job runner worker.
type JobRunnerConfig struct {
	// PollInterval is the time between polls for due jobs.
	// Default: 5 seconds.
	PollInterval time.Duration

	// JobTimeout bounds a single attempt.
	// Default: 10 minutes.
	JobTimeout time.Duration

	// RetryDelay is how long a failed job waits before its next attempt.
	// Default: 60 seconds.
	RetryDelay time.Duration

	// MaxConcurrent is the maximum number of jobs run at once.
	// Default: 2.
	MaxConcurrent int

	// LeaseGrace is added to JobTimeout to form the lease of a running job.
	// A running job still unfinished after its lease is treated as abandoned
	// and goes through the retry rules.
	// Default: 1 minute.
	LeaseGrace time.Duration
}

// DefaultJobRunnerConfig returns the default configuration.
func DefaultJobRunnerConfig() JobRunnerConfig {
	return JobRunnerConfig{
		PollInterval:  5 * time.Second,
		JobTimeout:    10 * time.Minute,
		RetryDelay:    domain.DefaultRetryDelay,
		MaxConcurrent: 2,
		LeaseGrace:    time.Minute,
	}
}

// JobRunner polls the store for due jobs and processes them.
type JobRunner struct {
	store     store.Store
	processor Processor
	config    JobRunnerConfig
	logger    *slog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobRunner creates a new job runner worker.
func NewJobRunner(s store.Store, processor Processor, config JobRunnerConfig, logger *slog.Logger) *JobRunner {
	defaults := DefaultJobRunnerConfig()
	if config.PollInterval == 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.JobTimeout == 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.LeaseGrace == 0 {
		config.LeaseGrace = defaults.LeaseGrace
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &JobRunner{
		store:     s,
		processor: processor,
		config:    config,
		logger:    logger.With("component", "job_runner"),
		now:       time.Now,
	}
}

// Start begins polling in a background goroutine.
func (r *JobRunner) Start() {
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go r.run()

	r.logger.Info("job runner started",
		"poll_interval", r.config.PollInterval,
		"max_concurrent", r.config.MaxConcurrent,
	)
}

// Stop cancels polling and waits for running jobs to return.
func (r *JobRunner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("job runner stopped")
}

func (r *JobRunner) run() {
	defer r.wg.Done()

	r.RunOnce(r.ctx)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(r.ctx)
		}
	}
}

// RunOnce processes the jobs due now, at most MaxConcurrent at a time, and
// returns how many were attempted.
func (r *JobRunner) RunOnce(ctx context.Context) int {
	jobs, err := r.store.ListDueJobs(ctx, r.now(), r.config.MaxConcurrent*4)
	if err != nil {
		r.logger.Error("failed to list due jobs", "error", err)
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}

	r.logger.Debug("starting job cycle", "job_count", len(jobs))

	sem := make(chan struct{}, r.config.MaxConcurrent)
	var wg sync.WaitGroup

	for i := range jobs {
		job := &jobs[i]

		wg.Add(1)
		go func(j *domain.Job) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}

			r.runJob(ctx, j)
		}(job)
	}

	wg.Wait()
	return len(jobs)
}

func (r *JobRunner) runJob(ctx context.Context, job *domain.Job) {
	logger := r.logger.With("job_id", job.ID, "blob", job.BlobName)

	now := r.now()
	if !job.IsDue(now) {
		return
	}
	if job.LeaseExpired(now) {
		r.reclaim(ctx, logger, job, now)
		return
	}

	if err := job.Start(now, r.config.JobTimeout+r.config.LeaseGrace); err != nil {
		logger.Warn("job cannot start", "status", job.Status, "attempts", job.Attempts, "error", err)
		if errors.Is(err, domain.ErrJobExhausted) {
			job.Status = domain.JobFailed
			job.UpdatedAt = r.now().UTC()
			r.save(ctx, logger, job)
		}
		return
	}
	if !r.save(ctx, logger, job) {
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.config.JobTimeout)
	paper, textLen, err := r.processor.ProcessStored(jobCtx, job)
	cancel()

	if err != nil && ctx.Err() != nil {
		// Interrupted by Stop; the attempt is not held against the job.
		if reqErr := job.Requeue(r.now()); reqErr != nil {
			logger.Error("failed to requeue job", "error", reqErr)
			return
		}
		logger.Info("job interrupted by shutdown, requeued", "attempts", job.Attempts)
		r.save(ctx, logger, job)
		return
	}

	if err != nil {
		if failErr := job.Fail(err, r.config.RetryDelay, r.now()); failErr != nil {
			logger.Error("failed to record job failure", "error", failErr)
			return
		}
		if job.Status == domain.JobFailed {
			logger.Error("job failed", "attempts", job.Attempts, "error", err)
		} else {
			logger.Warn("job attempt failed, will retry",
				"attempts", job.Attempts,
				"next_run_at", job.NextRunAt,
				"error", err,
			)
		}
		r.save(ctx, logger, job)
		return
	}

	if err := job.Succeed(paper.ID, textLen, r.now()); err != nil {
		logger.Error("failed to record job success", "error", err)
		return
	}
	logger.Info("job succeeded", "paper_id", paper.ID, "attempts", job.Attempts)
	r.save(ctx, logger, job)
}

// reclaim records an abandoned run as a failed attempt.
func (r *JobRunner) reclaim(ctx context.Context, logger *slog.Logger, job *domain.Job, now time.Time) {
	if err := job.Fail(domain.ErrLeaseExpired, r.config.RetryDelay, now); err != nil {
		logger.Error("failed to reclaim job", "error", err)
		return
	}
	logger.Warn("reclaimed abandoned job",
		"status", job.Status,
		"attempts", job.Attempts,
		"next_run_at", job.NextRunAt,
	)
	r.save(ctx, logger, job)
}

func (r *JobRunner) save(ctx context.Context, logger *slog.Logger, job *domain.Job) bool {
	// The attempt outcome must be recorded even if the runner is stopping.
	if err := r.store.UpdateJob(context.WithoutCancel(ctx), job); err != nil {
		logger.Error("failed to update job", "error", err)
		return false
	}
	return true
}
