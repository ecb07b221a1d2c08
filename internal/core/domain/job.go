package domain

import (
	"errors"
	"time"

	"github.com/rs/xid"
)

// =============================================================================
// Job Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrJobExhausted      = errors.New("job has no attempts left")
	ErrLeaseExpired      = errors.New("worker lost before the job finished")
)

// =============================================================================
// Job Status
// =============================================================================

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job defaults: one run plus three retries, a minute apart.
const (
	DefaultMaxAttempts = 4
	DefaultRetryDelay  = 60 * time.Second
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// validJobTransitions defines the allowed state transitions.
var validJobTransitions = map[JobStatus][]JobStatus{
	JobPending:   {JobRunning},
	JobRunning:   {JobSucceeded, JobFailed, JobPending},
	JobSucceeded: {},
	JobFailed:    {},
}

// ValidateJobTransition checks if a status transition is valid.
func ValidateJobTransition(from, to JobStatus) error {
	for _, s := range validJobTransitions[from] {
		if s == to {
			return nil
		}
	}
	return ErrInvalidTransition
}

// =============================================================================
// Job
// =============================================================================

// Job is a persisted unit of asynchronous document processing.
//
// NextRunAt is the earliest retry time while the job is pending and the
// lease deadline while it is running.
type Job struct {
	ID               string    `json:"id"`
	Status           JobStatus `json:"status"`
	BlobName         string    `json:"blob_name"`
	OriginalFilename string    `json:"original_filename"`
	ContentType      string    `json:"content_type,omitempty"`
	Folder           string    `json:"folder,omitempty"`
	Attempts         int       `json:"attempts"`
	MaxAttempts      int       `json:"max_attempts"`
	NextRunAt        time.Time `json:"next_run_at"`
	LastError        string    `json:"last_error,omitempty"`
	ExamPaperID      string    `json:"exam_paper_id,omitempty"`
	TextLength       int       `json:"text_length"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewJob creates a pending job for an object already in storage.
func NewJob(blobName, originalFilename, contentType, folder string, maxAttempts int, now time.Time) *Job {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	now = now.UTC()
	return &Job{
		ID:               xid.New().String(),
		Status:           JobPending,
		BlobName:         blobName,
		OriginalFilename: originalFilename,
		ContentType:      contentType,
		Folder:           folder,
		MaxAttempts:      maxAttempts,
		NextRunAt:        now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// IsDue reports whether a runner may pick the job up at now: a pending job
// whose retry time has come, or a running job whose lease ran out.
func (j *Job) IsDue(now time.Time) bool {
	if j.Status != JobPending && j.Status != JobRunning {
		return false
	}
	return !j.NextRunAt.After(now)
}

// LeaseExpired reports whether a running job outlived its lease, meaning the
// worker that started it is gone.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.Status == JobRunning && !j.NextRunAt.After(now)
}

// CanRetry reports whether another attempt is allowed after the current one.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// Start marks the job running, counts the attempt and leases the job until
// now+lease.
func (j *Job) Start(now time.Time, lease time.Duration) error {
	if err := ValidateJobTransition(j.Status, JobRunning); err != nil {
		return err
	}
	if j.Attempts >= j.MaxAttempts {
		return ErrJobExhausted
	}
	now = now.UTC()
	j.Status = JobRunning
	j.Attempts++
	j.NextRunAt = now.Add(lease)
	j.UpdatedAt = now
	return nil
}

// Requeue returns an interrupted run to pending without charging it an
// attempt. The job is due again immediately.
func (j *Job) Requeue(now time.Time) error {
	if j.Status != JobRunning {
		return ErrInvalidTransition
	}
	now = now.UTC()
	j.Status = JobPending
	if j.Attempts > 0 {
		j.Attempts--
	}
	j.NextRunAt = now
	j.UpdatedAt = now
	return nil
}

// Succeed records the result of a successful run.
func (j *Job) Succeed(examPaperID string, textLength int, now time.Time) error {
	if err := ValidateJobTransition(j.Status, JobSucceeded); err != nil {
		return err
	}
	j.Status = JobSucceeded
	j.ExamPaperID = examPaperID
	j.TextLength = textLength
	j.LastError = ""
	j.UpdatedAt = now.UTC()
	return nil
}

// Fail records a failed run. The job goes back to pending after delay while
// attempts remain, otherwise it fails for good.
func (j *Job) Fail(cause error, delay time.Duration, now time.Time) error {
	to := JobFailed
	if j.CanRetry() {
		to = JobPending
	}
	if err := ValidateJobTransition(j.Status, to); err != nil {
		return err
	}
	now = now.UTC()
	j.Status = to
	if cause != nil {
		j.LastError = cause.Error()
	}
	if to == JobPending {
		j.NextRunAt = now.Add(delay)
	}
	j.UpdatedAt = now
	return nil
}
