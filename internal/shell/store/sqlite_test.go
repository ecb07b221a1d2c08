package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/examai/backend/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func testPaper(title string) *domain.ExamPaper {
	return &domain.ExamPaper{
		InfrontPage: domain.FrontPage{
			Title:      title,
			Subject:    "Chemistry",
			TotalMarks: 50,
			ExamTime:   "02:00",
		},
		QuestionsData: domain.QuestionsData{
			NumOfSection: 1,
			Sections: map[string]domain.Section{
				"section_a": {Title: "Section A", Child: 2, Questions: map[string]string{
					"1": "Balance the equation H2 + O2 -> H2O.",
					"2": "Define molarity.",
				}},
			},
		},
	}
}

var testNow = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

// =============================================================================
// Exam Paper Tests
// =============================================================================

func TestInsertExamPaper_AssignsIdentity(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	paper := testPaper("Midterm")
	require.NoError(t, s.InsertExamPaper(ctx, paper))
	assert.NotEmpty(t, paper.ID)
	require.NotNil(t, paper.CreatedAt)

	got, err := s.GetExamPaper(ctx, paper.ID)
	require.NoError(t, err)
	assert.Equal(t, paper.ID, got.ID)
	assert.Equal(t, "Midterm", got.InfrontPage.Title)
	assert.Equal(t, paper.QuestionsData, got.QuestionsData)
	assert.True(t, paper.CreatedAt.Equal(*got.CreatedAt))
}

func TestInsertExamPaper_Duplicate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	paper := testPaper("Midterm")
	require.NoError(t, s.InsertExamPaper(ctx, paper))

	again := testPaper("Midterm again")
	again.ID = paper.ID
	err := s.InsertExamPaper(ctx, again)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestGetExamPaper_NotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.GetExamPaper(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	var storeErr *StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "GetExamPaper", storeErr.Op)
}

func TestLatestExamPaper(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.LatestExamPaper(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	for _, title := range []string{"first", "second", "third"} {
		require.NoError(t, s.InsertExamPaper(ctx, testPaper(title)))
	}

	latest, err := s.LatestExamPaper(ctx)
	require.NoError(t, err)
	assert.Equal(t, "third", latest.InfrontPage.Title)
}

func TestListExamPapers(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"a", "b", "c"} {
		require.NoError(t, s.InsertExamPaper(ctx, testPaper(title)))
	}

	papers, err := s.ListExamPapers(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, papers, 2)
	assert.Equal(t, "c", papers[0].InfrontPage.Title)
	assert.Equal(t, "b", papers[1].InfrontPage.Title)

	papers, err = s.ListExamPapers(ctx, ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, "a", papers[0].InfrontPage.Title)
}

// =============================================================================
// User Tests
// =============================================================================

func TestCreateUser(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := &domain.User{GenInfo: *testPaper("Profile paper")}
	require.NoError(t, s.CreateUser(ctx, user))
	assert.NotEmpty(t, user.ID)
	assert.False(t, user.CreatedAt.IsZero())

	got, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Profile paper", got.GenInfo.InfrontPage.Title)
	assert.Equal(t, user.GenInfo.QuestionsData, got.GenInfo.QuestionsData)
	assert.True(t, user.CreatedAt.Equal(got.CreatedAt))
}

func TestCreateUser_Duplicate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := &domain.User{ID: "u-1", GenInfo: *testPaper("x")}
	require.NoError(t, s.CreateUser(ctx, user))
	err := s.CreateUser(ctx, &domain.User{ID: "u-1", GenInfo: *testPaper("y")})
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestGetUser_NotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.GetUser(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Job Tests
// =============================================================================

func TestJobRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	job := domain.NewJob("notes/20250601_093000_abcd1234_a.pdf", "a.pdf", "application/pdf", "notes", 4, testNow)
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job, got)
}

func TestUpdateJob(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	job := domain.NewJob("a.png", "a.png", "image/png", "", 4, testNow)
	require.NoError(t, s.CreateJob(ctx, job))

	require.NoError(t, job.Start(testNow, time.Minute))
	require.NoError(t, job.Succeed("paper-9", 321, testNow.Add(time.Minute)))
	require.NoError(t, s.UpdateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobSucceeded, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "paper-9", got.ExamPaperID)
	assert.Equal(t, 321, got.TextLength)
}

func TestUpdateJob_NotFound(t *testing.T) {
	s := setupTestStore(t)
	job := domain.NewJob("a.png", "a.png", "", "", 1, testNow)
	err := s.UpdateJob(context.Background(), job)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetJob_NotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.GetJob(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDueJobs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	due := domain.NewJob("due.png", "due.png", "", "", 4, testNow.Add(-time.Minute))
	later := domain.NewJob("later.png", "later.png", "", "", 4, testNow.Add(time.Hour))
	running := domain.NewJob("running.png", "running.png", "", "", 4, testNow.Add(-time.Hour))
	require.NoError(t, running.Start(testNow, 90*time.Minute))

	for _, j := range []*domain.Job{due, later, running} {
		require.NoError(t, s.CreateJob(ctx, j))
	}

	jobs, err := s.ListDueJobs(ctx, testNow, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, due.ID, jobs[0].ID)

	jobs, err = s.ListDueJobs(ctx, testNow.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, due.ID, jobs[0].ID)
	assert.Equal(t, later.ID, jobs[1].ID)
	assert.Equal(t, running.ID, jobs[2].ID)
	assert.Equal(t, domain.JobRunning, jobs[2].Status)
}

func TestListDueJobs_SkipsTerminalJobs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	done := domain.NewJob("done.png", "done.png", "", "", 1, testNow)
	require.NoError(t, done.Start(testNow, time.Minute))
	require.NoError(t, done.Succeed("p", 1, testNow))
	failed := domain.NewJob("failed.png", "failed.png", "", "", 1, testNow)
	require.NoError(t, failed.Start(testNow, time.Minute))
	require.NoError(t, failed.Fail(errors.New("x"), time.Minute, testNow))
	require.NoError(t, s.CreateJob(ctx, done))
	require.NoError(t, s.CreateJob(ctx, failed))

	jobs, err := s.ListDueJobs(ctx, testNow.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestListDueJobs_Limit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateJob(ctx, domain.NewJob("x.png", "x.png", "", "", 1, testNow.Add(time.Duration(-i)*time.Minute))))
	}
	jobs, err := s.ListDueJobs(ctx, testNow, 3)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestPing(t *testing.T) {
	s := setupTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.Ping(context.Background()))

	_, err = Open(context.Background(), Config{Driver: "postgres"})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestListOptions_Normalize(t *testing.T) {
	assert.Equal(t, ListOptions{Limit: 100}, ListOptions{}.Normalize())
	assert.Equal(t, ListOptions{Limit: 1000}, ListOptions{Limit: 5000, Offset: -3}.Normalize())
}

func TestStoreError(t *testing.T) {
	err := NewStoreError("GetJob", "job", "j1", "job not found", ErrNotFound)
	assert.Equal(t, "GetJob job j1: job not found", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)

	err = NewStoreError("Ping", "", "", "down", ErrConnectionFailed)
	assert.Equal(t, "Ping: down", err.Error())
}
