// Package pipeline runs uploaded documents through storage, text detection,
// exam generation and persistence.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/examai/backend/internal/core/domain"
	"github.com/examai/backend/internal/core/exam"
	"github.com/examai/backend/internal/shell/blob"
	"github.com/examai/backend/internal/shell/ocr"
	"github.com/examai/backend/internal/shell/store"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrUploadFailed  = errors.New("storage upload failed")
	ErrOCRFailed     = errors.New("OCR processing failed")
	ErrPersistFailed = errors.New("failed to store exam paper")
)

// NoTextMessage is reported instead of a generation error when detection
// found nothing to send to the model.
const NoTextMessage = "No text extracted from OCR to send to Claude."

// =============================================================================
// Service
// =============================================================================

// Config tunes the pipeline.
type Config struct {
	// MaxConcurrent bounds the files processed at once by ProcessBatch.
	MaxConcurrent int
	// MaxAttempts is the attempt budget of enqueued jobs.
	MaxAttempts int
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 4,
		MaxAttempts:   domain.DefaultMaxAttempts,
	}
}

// Service wires storage, OCR, the exam generator and the store together.
type Service struct {
	storage   blob.Storage
	detector  ocr.Detector
	generator *exam.Generator
	store     store.Store
	config    Config
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewService creates a pipeline service.
func NewService(storage blob.Storage, detector ocr.Detector, generator *exam.Generator, st store.Store, cfg Config, logger *slog.Logger) *Service {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = domain.DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		storage:   storage,
		detector:  detector,
		generator: generator,
		store:     st,
		config:    cfg,
		logger:    logger.With("component", "pipeline"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// =============================================================================
// Inputs and Results
// =============================================================================

// Upload is one file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Folder      string
	Content     []byte
}

// StoredFile describes an object written to storage.
type StoredFile struct {
	Name        string `json:"gcs_filename"`
	Bucket      string `json:"bucket"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Generation is the outcome of exam generation. Error is set instead of
// Paper when generation failed or there was no text.
type Generation struct {
	Paper *domain.ExamPaper `json:"exam_paper"`
	Error *string           `json:"error"`
}

func (g *Generation) fail(msg string) {
	g.Paper = nil
	g.Error = &msg
}

// UploadResult is the outcome of ProcessUpload.
type UploadResult struct {
	OriginalFilename string            `json:"original_filename"`
	File             StoredFile        `json:"gcs_info"`
	OCR              *domain.OCRResult `json:"ocr_results"`
	Generation       Generation        `json:"claude_ai_response"`
}

// BatchItem is the outcome for one file of ProcessBatch.
type BatchItem struct {
	OriginalFilename string            `json:"original_filename"`
	Name             string            `json:"gcs_filename"`
	Uploaded         bool              `json:"gcs_success"`
	Message          string            `json:"gcs_message"`
	OCR              *domain.OCRResult `json:"ocr_results"`
}

// =============================================================================
// Single Upload
// =============================================================================

// ProcessUpload stores the file, detects its text and, when there is any,
// generates and stores an exam paper. Generation failures are reported in
// the result rather than returned.
func (s *Service) ProcessUpload(ctx context.Context, up Upload) (*UploadResult, error) {
	filename := domain.CleanFilename(up.Filename)
	if filename == "" {
		return nil, domain.ErrMissingFilename
	}
	kind := domain.ClassifyFile(filename)
	if kind == domain.FileKindUnsupported {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFile, filename)
	}

	key := domain.NewUploadKey(s.now(), s.newID())
	stored, err := s.UploadOnly(ctx, key, up)
	if err != nil {
		return nil, err
	}

	result := &UploadResult{OriginalFilename: up.Filename, File: *stored}
	result.OCR, err = s.detect(ctx, kind, key, stored.Name, up.Content)
	if err != nil {
		return nil, err
	}

	result.Generation = s.generateAndStore(ctx, result.OCR)
	return result, nil
}

// UploadOnly writes the upload under the name derived from key.
func (s *Service) UploadOnly(ctx context.Context, key domain.UploadKey, up Upload) (*StoredFile, error) {
	name, err := key.ObjectName(up.Folder, up.Filename)
	if err != nil {
		return nil, err
	}

	info, err := s.storage.Upload(ctx, name, bytes.NewReader(up.Content), up.ContentType)
	if err != nil {
		s.logger.Error("upload failed", "name", name, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	s.logger.Info("file uploaded", "name", name, "size", info.Size, "bucket", s.storage.Bucket())

	return &StoredFile{
		Name:        name,
		Bucket:      s.storage.Bucket(),
		Size:        info.Size,
		ContentType: up.ContentType,
	}, nil
}

// detect runs OCR for a stored upload. PDFs in Cloud Storage go through the
// asynchronous file API with output under the upload's OCR prefix; other
// PDFs are sent inline.
func (s *Service) detect(ctx context.Context, kind domain.FileKind, key domain.UploadKey, name string, content []byte) (*domain.OCRResult, error) {
	if kind != domain.FileKindPDF || !strings.HasPrefix(s.storage.URI(name), "gs://") {
		result, err := s.DetectText(ctx, kind, content)
		if err != nil {
			return nil, err
		}
		if result.Error != nil {
			return nil, fmt.Errorf("%w: %s", ErrOCRFailed, *result.Error)
		}
		return result, nil
	}

	prefix := key.OCRPrefix()
	if err := s.detector.DetectPDFAsync(ctx, s.storage.URI(name), s.storage.URI(prefix)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOCRFailed, err)
	}
	result, err := ocr.CollectResults(ctx, s.storage, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOCRFailed, err)
	}
	return result, nil
}

// DetectText runs direct OCR on file content.
func (s *Service) DetectText(ctx context.Context, kind domain.FileKind, content []byte) (*domain.OCRResult, error) {
	var (
		result *domain.OCRResult
		err    error
	)
	switch kind {
	case domain.FileKindImage:
		result, err = s.detector.DetectImage(ctx, content)
	case domain.FileKindPDF:
		result, err = s.detector.DetectPDF(ctx, content)
	default:
		return nil, domain.ErrUnsupportedFile
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOCRFailed, err)
	}
	return result, nil
}

func (s *Service) generateAndStore(ctx context.Context, result *domain.OCRResult) Generation {
	var gen Generation
	if !result.HasText() {
		gen.fail(NoTextMessage)
		return gen
	}

	paper, err := s.GenerateFromText(ctx, result.FullText)
	if err != nil {
		s.logger.Warn("exam generation failed", "error", err)
		gen.fail(err.Error())
		return gen
	}
	gen.Paper = paper
	return gen
}

// =============================================================================
// Generation
// =============================================================================

// GenerateFromText generates an exam paper from text and stores it.
func (s *Service) GenerateFromText(ctx context.Context, text string) (*domain.ExamPaper, error) {
	paper, err := s.generator.Generate(ctx, text)
	if err != nil {
		return nil, err
	}
	for _, w := range paper.Warnings() {
		s.logger.Warn("generated paper inconsistency", "warning", w)
	}

	if err := s.store.InsertExamPaper(ctx, paper); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	s.logger.Info("exam paper stored",
		"paper_id", paper.ID,
		"title", paper.InfrontPage.Title,
		"questions", paper.QuestionsData.QuestionCount(),
	)
	return paper, nil
}

// =============================================================================
// Batch
// =============================================================================

// ProcessBatch uploads every file and runs direct OCR on each. Files are
// handled concurrently up to MaxConcurrent; items keep the input order.
// Failures are reported per item.
func (s *Service) ProcessBatch(ctx context.Context, uploads []Upload) []BatchItem {
	items := make([]BatchItem, len(uploads))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxConcurrent)
	for i, up := range uploads {
		g.Go(func() error {
			items[i] = s.processBatchItem(ctx, up)
			return nil
		})
	}
	_ = g.Wait()
	return items
}

func (s *Service) processBatchItem(ctx context.Context, up Upload) BatchItem {
	item := BatchItem{OriginalFilename: up.Filename, OCR: &domain.OCRResult{StructuredData: []domain.OCRPage{}}}

	key := domain.NewUploadKey(s.now(), s.newID())
	item.Name, _ = key.ObjectName(up.Folder, up.Filename)

	stored, err := s.UploadOnly(ctx, key, up)
	if err != nil {
		item.Message = err.Error()
		return item
	}
	item.Uploaded = true
	item.Message = "File uploaded successfully to " + s.storage.URI(stored.Name)

	result, err := s.DetectText(ctx, domain.ClassifyFile(stored.Name), up.Content)
	if err != nil {
		item.OCR.SetError(err.Error())
		return item
	}
	item.OCR = result
	return item
}

// =============================================================================
// Asynchronous Processing
// =============================================================================

// Enqueue stores the file and records a pending job for the worker.
func (s *Service) Enqueue(ctx context.Context, up Upload) (*domain.Job, error) {
	filename := domain.CleanFilename(up.Filename)
	if filename == "" {
		return nil, domain.ErrMissingFilename
	}
	if domain.ClassifyFile(filename) == domain.FileKindUnsupported {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFile, filename)
	}

	stored, err := s.UploadOnly(ctx, domain.NewUploadKey(s.now(), s.newID()), up)
	if err != nil {
		return nil, err
	}

	job := domain.NewJob(stored.Name, up.Filename, up.ContentType, up.Folder, s.config.MaxAttempts, s.now())
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("job enqueued", "job_id", job.ID, "blob", job.BlobName)
	return job, nil
}

// ProcessStored runs OCR and generation for a job whose file is already in
// storage. Unlike ProcessUpload, a generation failure is an error so the
// job can be retried.
func (s *Service) ProcessStored(ctx context.Context, job *domain.Job) (*domain.ExamPaper, int, error) {
	kind := domain.ClassifyFile(job.BlobName)
	if kind == domain.FileKindUnsupported {
		return nil, 0, fmt.Errorf("%w: %s", domain.ErrUnsupportedFile, job.BlobName)
	}

	content, err := s.storage.Read(ctx, job.BlobName)
	if err != nil {
		return nil, 0, err
	}

	key := domain.NewUploadKey(s.now(), s.newID())
	result, err := s.detect(ctx, kind, key, job.BlobName, content)
	if err != nil {
		return nil, 0, err
	}
	if !result.HasText() {
		return nil, 0, errors.New(NoTextMessage)
	}

	paper, err := s.GenerateFromText(ctx, result.FullText)
	if err != nil {
		return nil, len(result.FullText), err
	}
	return paper, len(result.FullText), nil
}
