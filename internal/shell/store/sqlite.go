package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/examai/backend/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface
// =============================================================================

// executor is the subset of *sqlx.DB the query helpers need.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	// SQLite allows one writer; a single connection also keeps :memory:
	// databases alive across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return NewStoreError("Ping", "", "", err.Error(), ErrConnectionFailed)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertExamPaper(ctx context.Context, paper *domain.ExamPaper) error {
	return insertExamPaper(ctx, s.db, paper)
}

func (s *SQLiteStore) GetExamPaper(ctx context.Context, id string) (*domain.ExamPaper, error) {
	return getExamPaper(ctx, s.db, id)
}

func (s *SQLiteStore) LatestExamPaper(ctx context.Context) (*domain.ExamPaper, error) {
	return latestExamPaper(ctx, s.db)
}

func (s *SQLiteStore) ListExamPapers(ctx context.Context, opts ListOptions) ([]domain.ExamPaper, error) {
	return listExamPapers(ctx, s.db, opts)
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	return createUser(ctx, s.db, user)
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return getUser(ctx, s.db, id)
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *domain.Job) error {
	return createJob(ctx, s.db, job)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return getJob(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *domain.Job) error {
	return updateJob(ctx, s.db, job)
}

func (s *SQLiteStore) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	return listDueJobs(ctx, s.db, now, limit)
}

// =============================================================================
// Exam Paper Queries
// =============================================================================

type examPaperRow struct {
	Seq        int64  `db:"seq"`
	ID         string `db:"id"`
	Title      string `db:"title"`
	Subject    string `db:"subject"`
	TotalMarks int    `db:"total_marks"`
	Body       string `db:"body"`
	CreatedAt  string `db:"created_at"`
}

// preparePaper assigns the identity fields of a paper about to be stored.
func preparePaper(paper *domain.ExamPaper) {
	if paper.ID == "" {
		paper.ID = uuid.NewString()
	}
	if paper.CreatedAt == nil {
		now := time.Now().UTC().Truncate(time.Second)
		paper.CreatedAt = &now
	}
}

func insertExamPaper(ctx context.Context, exec executor, paper *domain.ExamPaper) error {
	preparePaper(paper)

	body, err := json.Marshal(paper)
	if err != nil {
		return NewStoreError("InsertExamPaper", "exam_paper", paper.ID, "failed to serialize paper", ErrInvalidData)
	}

	query := `
		INSERT INTO exam_papers (id, title, subject, total_marks, body, created_at)
		VALUES (:id, :title, :subject, :total_marks, :body, :created_at)`

	row := map[string]any{
		"id":          paper.ID,
		"title":       paper.InfrontPage.Title,
		"subject":     paper.InfrontPage.Subject,
		"total_marks": paper.InfrontPage.TotalMarks,
		"body":        string(body),
		"created_at":  paper.CreatedAt.UTC().Format(time.RFC3339),
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: exam_papers.id") {
			return NewStoreError("InsertExamPaper", "exam_paper", paper.ID, "exam paper with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("InsertExamPaper", "exam_paper", paper.ID, err.Error(), err)
	}
	return nil
}

func getExamPaper(ctx context.Context, exec executor, id string) (*domain.ExamPaper, error) {
	var row examPaperRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM exam_papers WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetExamPaper", "exam_paper", id, "exam paper not found", ErrNotFound)
		}
		return nil, NewStoreError("GetExamPaper", "exam_paper", id, err.Error(), err)
	}
	return rowToExamPaper(&row)
}

func latestExamPaper(ctx context.Context, exec executor) (*domain.ExamPaper, error) {
	var row examPaperRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM exam_papers ORDER BY seq DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("LatestExamPaper", "exam_paper", "", "no exam papers stored", ErrNotFound)
		}
		return nil, NewStoreError("LatestExamPaper", "exam_paper", "", err.Error(), err)
	}
	return rowToExamPaper(&row)
}

func listExamPapers(ctx context.Context, exec executor, opts ListOptions) ([]domain.ExamPaper, error) {
	opts = opts.Normalize()

	var rows []examPaperRow
	err := exec.SelectContext(ctx, &rows, `SELECT * FROM exam_papers ORDER BY seq DESC LIMIT ? OFFSET ?`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListExamPapers", "exam_paper", "", err.Error(), err)
	}

	papers := make([]domain.ExamPaper, 0, len(rows))
	for i := range rows {
		p, err := rowToExamPaper(&rows[i])
		if err != nil {
			return nil, err
		}
		papers = append(papers, *p)
	}
	return papers, nil
}

func rowToExamPaper(row *examPaperRow) (*domain.ExamPaper, error) {
	var paper domain.ExamPaper
	if err := json.Unmarshal([]byte(row.Body), &paper); err != nil {
		return nil, NewStoreError("rowToExamPaper", "exam_paper", row.ID, "failed to parse paper", ErrInvalidData)
	}
	createdAt, _ := time.Parse(time.RFC3339, row.CreatedAt)
	paper.ID = row.ID
	paper.CreatedAt = &createdAt
	return &paper, nil
}

// =============================================================================
// User Queries
// =============================================================================

type userRow struct {
	ID        string `db:"id"`
	GenInfo   string `db:"gen_info"`
	CreatedAt string `db:"created_at"`
}

func prepareUser(user *domain.User) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
}

func createUser(ctx context.Context, exec executor, user *domain.User) error {
	prepareUser(user)

	genInfo, err := json.Marshal(user.GenInfo)
	if err != nil {
		return NewStoreError("CreateUser", "user", user.ID, "failed to serialize gen_info", ErrInvalidData)
	}

	query := `INSERT INTO users (id, gen_info, created_at) VALUES (:id, :gen_info, :created_at)`
	row := map[string]any{
		"id":         user.ID,
		"gen_info":   string(genInfo),
		"created_at": user.CreatedAt.UTC().Format(time.RFC3339),
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: users.id") {
			return NewStoreError("CreateUser", "user", user.ID, "user with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateUser", "user", user.ID, err.Error(), err)
	}
	return nil
}

func getUser(ctx context.Context, exec executor, id string) (*domain.User, error) {
	var row userRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM users WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetUser", "user", id, "user not found", ErrNotFound)
		}
		return nil, NewStoreError("GetUser", "user", id, err.Error(), err)
	}

	var genInfo domain.ExamPaper
	if err := json.Unmarshal([]byte(row.GenInfo), &genInfo); err != nil {
		return nil, NewStoreError("GetUser", "user", id, "failed to parse gen_info", ErrInvalidData)
	}
	createdAt, _ := time.Parse(time.RFC3339, row.CreatedAt)

	return &domain.User{
		ID:        row.ID,
		GenInfo:   genInfo,
		CreatedAt: createdAt,
	}, nil
}

// =============================================================================
// Job Queries
// =============================================================================

type jobRow struct {
	ID               string `db:"id"`
	Status           string `db:"status"`
	BlobName         string `db:"blob_name"`
	OriginalFilename string `db:"original_filename"`
	ContentType      string `db:"content_type"`
	Folder           string `db:"folder"`
	Attempts         int    `db:"attempts"`
	MaxAttempts      int    `db:"max_attempts"`
	NextRunAt        string `db:"next_run_at"`
	LastError        string `db:"last_error"`
	ExamPaperID      string `db:"exam_paper_id"`
	TextLength       int    `db:"text_length"`
	CreatedAt        string `db:"created_at"`
	UpdatedAt        string `db:"updated_at"`
}

func jobToRow(job *domain.Job) map[string]any {
	return map[string]any{
		"id":                job.ID,
		"status":            string(job.Status),
		"blob_name":         job.BlobName,
		"original_filename": job.OriginalFilename,
		"content_type":      job.ContentType,
		"folder":            job.Folder,
		"attempts":          job.Attempts,
		"max_attempts":      job.MaxAttempts,
		"next_run_at":       job.NextRunAt.UTC().Format(time.RFC3339),
		"last_error":        job.LastError,
		"exam_paper_id":     job.ExamPaperID,
		"text_length":       job.TextLength,
		"created_at":        job.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":        job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func createJob(ctx context.Context, exec executor, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			id, status, blob_name, original_filename, content_type, folder,
			attempts, max_attempts, next_run_at, last_error, exam_paper_id,
			text_length, created_at, updated_at
		) VALUES (
			:id, :status, :blob_name, :original_filename, :content_type, :folder,
			:attempts, :max_attempts, :next_run_at, :last_error, :exam_paper_id,
			:text_length, :created_at, :updated_at
		)`

	if _, err := exec.NamedExecContext(ctx, query, jobToRow(job)); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: jobs.id") {
			return NewStoreError("CreateJob", "job", job.ID, "job with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateJob", "job", job.ID, err.Error(), err)
	}
	return nil
}

func getJob(ctx context.Context, exec executor, id string) (*domain.Job, error) {
	var row jobRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM jobs WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetJob", "job", id, "job not found", ErrNotFound)
		}
		return nil, NewStoreError("GetJob", "job", id, err.Error(), err)
	}
	return rowToJob(&row), nil
}

func updateJob(ctx context.Context, exec executor, job *domain.Job) error {
	query := `
		UPDATE jobs SET
			status = :status, attempts = :attempts, max_attempts = :max_attempts,
			next_run_at = :next_run_at, last_error = :last_error,
			exam_paper_id = :exam_paper_id, text_length = :text_length,
			updated_at = :updated_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, jobToRow(job))
	if err != nil {
		return NewStoreError("UpdateJob", "job", job.ID, err.Error(), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return NewStoreError("UpdateJob", "job", job.ID, "job not found", ErrNotFound)
	}
	return nil
}

func listDueJobs(ctx context.Context, exec executor, now time.Time, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = DefaultListOptions().Limit
	}

	query := `
		SELECT * FROM jobs
		WHERE status IN (?, ?) AND next_run_at <= ?
		ORDER BY next_run_at, created_at
		LIMIT ?`

	var rows []jobRow
	err := exec.SelectContext(ctx, &rows, query,
		string(domain.JobPending), string(domain.JobRunning),
		now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, NewStoreError("ListDueJobs", "job", "", err.Error(), err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, *rowToJob(&rows[i]))
	}
	return jobs, nil
}

func rowToJob(row *jobRow) *domain.Job {
	nextRunAt, _ := time.Parse(time.RFC3339, row.NextRunAt)
	createdAt, _ := time.Parse(time.RFC3339, row.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339, row.UpdatedAt)

	return &domain.Job{
		ID:               row.ID,
		Status:           domain.JobStatus(row.Status),
		BlobName:         row.BlobName,
		OriginalFilename: row.OriginalFilename,
		ContentType:      row.ContentType,
		Folder:           row.Folder,
		Attempts:         row.Attempts,
		MaxAttempts:      row.MaxAttempts,
		NextRunAt:        nextRunAt,
		LastError:        row.LastError,
		ExamPaperID:      row.ExamPaperID,
		TextLength:       row.TextLength,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}
}
