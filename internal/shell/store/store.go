package store

import (
	"context"
	"time"

	"github.com/examai/backend/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for exam papers, users and
// processing jobs.
type Store interface {
	// Exam paper operations
	InsertExamPaper(ctx context.Context, paper *domain.ExamPaper) error
	GetExamPaper(ctx context.Context, id string) (*domain.ExamPaper, error)
	LatestExamPaper(ctx context.Context) (*domain.ExamPaper, error)
	ListExamPapers(ctx context.Context, opts ListOptions) ([]domain.ExamPaper, error)

	// User operations
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)

	// Job operations
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	UpdateJob(ctx context.Context, job *domain.Job) error
	// ListDueJobs returns pending jobs whose retry time has come and running
	// jobs whose lease has expired, oldest first.
	ListDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// Collection names, shared by every driver.
const (
	CollectionExamPapers = "exam_papers"
	CollectionUsers      = "users"
	CollectionJobs       = "jobs"
)

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
