// Package api provides HTTP handlers for the exam backend.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/examai/backend/internal/core/domain"
	"github.com/examai/backend/internal/core/exam"
	"github.com/examai/backend/internal/shell/api/middleware"
	"github.com/examai/backend/internal/shell/blob"
	"github.com/examai/backend/internal/shell/pipeline"
	"github.com/examai/backend/internal/shell/store"
)

// =============================================================================
// Handler
// =============================================================================

// Processor is the document pipeline used by the upload and generation
// endpoints.
type Processor interface {
	ProcessUpload(ctx context.Context, up pipeline.Upload) (*pipeline.UploadResult, error)
	ProcessBatch(ctx context.Context, uploads []pipeline.Upload) []pipeline.BatchItem
	Enqueue(ctx context.Context, up pipeline.Upload) (*domain.Job, error)
	GenerateFromText(ctx context.Context, text string) (*domain.ExamPaper, error)
}

// Config configures the handler.
type Config struct {
	// MaxUploadBytes caps a request body carrying files.
	MaxUploadBytes int64
	// AllowedOrigins lists the CORS origins allowed to call the API.
	AllowedOrigins []string
}

// DefaultAllowedOrigins are the front-end origins allowed by default.
var DefaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://169.254.9.73:3000",
	"http://127.0.0.1:3000",
}

// DefaultMaxUploadBytes is 32 MiB.
const DefaultMaxUploadBytes = 32 << 20

// Handler provides HTTP handlers for the API.
type Handler struct {
	processor Processor
	storage   blob.Storage
	store     store.Store
	config    Config
	logger    *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(p Processor, storage blob.Storage, s store.Store, cfg Config, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = DefaultAllowedOrigins
	}
	return &Handler{
		processor: p,
		storage:   storage,
		store:     s,
		config:    cfg,
		logger:    l.With("component", "api"),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(h.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(h.jsonContentType)
	r.Use(middleware.RequestIDHeader)

	r.Get("/", h.handleRoot)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	// Documents
	r.Post("/upload", h.handleUpload)
	r.Post("/upload-multiple", h.handleUploadMultiple)
	r.Post("/upload-async", h.handleUploadAsync)

	// Stored files
	r.Get("/files", h.handleListFiles)
	r.Get("/files/*", h.handleFileExists)
	r.Delete("/files/*", h.handleDeleteFile)

	// Exam papers
	r.Get("/gen", h.handleLatestPaper)
	r.Post("/gen-response", h.handleGenerate)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/create-user", h.handleCreateUser)
		r.Get("/exam-papers", h.handleListExamPapers)
		r.Get("/jobs/{id}", h.handleGetJob)
	})

	return r
}

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, MessageResponse{Message: "File Upload API with Google Cloud Storage, OCR, and AI"})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("store ping failed", "error", err)
		checks["database"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["database"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Upload Handlers
// =============================================================================

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	up, ok := h.readSingleUpload(w, r)
	if !ok {
		return
	}

	result, err := h.processor.ProcessUpload(r.Context(), up)
	if err != nil {
		h.writePipelineError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, UploadResponse{
		Message:      "File uploaded, OCR processed, and AI generation attempted.",
		UploadResult: result,
	})
}

func (h *Handler) handleUploadAsync(w http.ResponseWriter, r *http.Request) {
	up, ok := h.readSingleUpload(w, r)
	if !ok {
		return
	}

	job, err := h.processor.Enqueue(r.Context(), up)
	if err != nil {
		h.writePipelineError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/jobs/"+job.ID)
	h.writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) handleUploadMultiple(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.config.MaxUploadBytes); err != nil {
		h.writeFormError(w, err)
		return
	}

	var uploads []pipeline.Upload
	for _, fh := range r.MultipartForm.File["files"] {
		if fh.Filename == "" {
			continue
		}
		up, err := readPart(fh)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "failed to read file "+fh.Filename, "validation_error")
			return
		}
		up.Folder = r.URL.Query().Get("folder")
		uploads = append(uploads, up)
	}
	if len(uploads) == 0 {
		h.writeError(w, http.StatusBadRequest, "No files provided", "validation_error")
		return
	}

	results := h.processor.ProcessBatch(r.Context(), uploads)
	h.writeJSON(w, http.StatusOK, UploadMultipleResponse{
		Message: fmt.Sprintf("Processed %d files with GCS upload and OCR", len(results)),
		Results: results,
	})
}

// readSingleUpload reads the "file" form field. It writes the error response
// and returns false when there is no usable file.
func (h *Handler) readSingleUpload(w http.ResponseWriter, r *http.Request) (pipeline.Upload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.config.MaxUploadBytes); err != nil {
		h.writeFormError(w, err)
		return pipeline.Upload{}, false
	}

	files := r.MultipartForm.File["file"]
	if len(files) == 0 || files[0].Filename == "" {
		h.writeError(w, http.StatusBadRequest, "No file provided", "validation_error")
		return pipeline.Upload{}, false
	}

	up, err := readPart(files[0])
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read uploaded file", "validation_error")
		return pipeline.Upload{}, false
	}
	up.Folder = r.URL.Query().Get("folder")
	return up, true
}

func readPart(fh *multipart.FileHeader) (pipeline.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return pipeline.Upload{}, err
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return pipeline.Upload{}, err
	}
	return pipeline.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Content:     content,
	}, nil
}

// =============================================================================
// File Handlers
// =============================================================================

func (h *Handler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.storage.List(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		h.logger.Error("failed to list files", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list files: "+err.Error(), "storage_error")
		return
	}
	h.writeJSON(w, http.StatusOK, FileListResponse{
		Success: true,
		Files:   files,
		Count:   len(files),
	})
}

func (h *Handler) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if path == "" {
		h.writeError(w, http.StatusBadRequest, "file path is required", "validation_error")
		return
	}

	if err := h.storage.Delete(r.Context(), path); err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, fmt.Sprintf("File %s not found", path), "not_found")
			return
		}
		h.logger.Error("failed to delete file", "path", path, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to delete file: "+err.Error(), "storage_error")
		return
	}

	h.writeJSON(w, http.StatusOK, DeleteFileResponse{
		Success: true,
		Message: fmt.Sprintf("File %s deleted successfully", path),
	})
}

// handleFileExists serves GET /files/{path}/exists.
func (h *Handler) handleFileExists(w http.ResponseWriter, r *http.Request) {
	path, ok := strings.CutSuffix(chi.URLParam(r, "*"), "/exists")
	if !ok || path == "" {
		h.writeError(w, http.StatusNotFound, "not found", "not_found")
		return
	}

	exists, err := h.storage.Exists(r.Context(), path)
	if err != nil && !errors.Is(err, blob.ErrInvalidName) {
		h.writeError(w, http.StatusInternalServerError, "failed to check file: "+err.Error(), "storage_error")
		return
	}
	h.writeJSON(w, http.StatusOK, FileExistsResponse{FilePath: path, Exists: exists})
}

// =============================================================================
// Exam Paper Handlers
// =============================================================================

func (h *Handler) handleLatestPaper(w http.ResponseWriter, r *http.Request) {
	paper, err := h.store.LatestExamPaper(r.Context())
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "No exam papers found in the database.", "not_found")
			return
		}
		h.logger.Error("failed to get latest exam paper", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to retrieve latest exam paper: "+err.Error(), "internal_error")
		return
	}
	h.writeJSON(w, http.StatusOK, paper)
}

// handleListExamPapers serves GET /api/v1/exam-papers?limit=&offset=,
// newest first.
func (h *Handler) handleListExamPapers(w http.ResponseWriter, r *http.Request) {
	opts := store.DefaultListOptions()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &opts.Limit}, {"offset", &opts.Offset}} {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, p.name+" must be a non-negative integer", "validation_error")
			return
		}
		*p.dst = n
	}
	opts = opts.Normalize()

	papers, err := h.store.ListExamPapers(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list exam papers", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list exam papers: "+err.Error(), "internal_error")
		return
	}
	h.writeJSON(w, http.StatusOK, ExamPaperListResponse{
		Papers: papers,
		Count:  len(papers),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	if strings.TrimSpace(req.ExtractedText) == "" {
		h.writeError(w, http.StatusBadRequest, "extracted_text is required", "validation_error")
		return
	}

	paper, err := h.processor.GenerateFromText(r.Context(), req.ExtractedText)
	if err != nil {
		h.writePipelineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, paper)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), "validation_error")
		return
	}

	user := &domain.User{GenInfo: req.GenInfo}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		h.logger.Error("failed to create user", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to insert user: "+err.Error(), "internal_error")
		return
	}

	stored, err := h.store.GetUser(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to retrieve inserted user data.", "internal_error")
		return
	}
	h.writeJSON(w, http.StatusOK, stored)
}

// =============================================================================
// Job Handlers
// =============================================================================

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "job not found", "not_found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error(), "internal_error")
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func (h *Handler) writeFormError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), "payload_too_large")
		return
	}
	h.writeError(w, http.StatusBadRequest, "expected a multipart form upload", "validation_error")
}

// writePipelineError maps pipeline failures to HTTP statuses.
func (h *Handler) writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrMissingFilename):
		h.writeError(w, http.StatusBadRequest, "No file provided", "validation_error")
	case errors.Is(err, domain.ErrUnsupportedFile):
		h.writeError(w, http.StatusBadRequest,
			"Unsupported file type for OCR. Only images and PDFs are supported.", "unsupported_file")
	case errors.Is(err, pipeline.ErrUploadFailed):
		h.writeError(w, http.StatusInternalServerError, "GCS upload failed: "+err.Error(), "storage_error")
	case errors.Is(err, pipeline.ErrOCRFailed):
		h.writeError(w, http.StatusInternalServerError, err.Error(), "ocr_error")
	case errors.Is(err, exam.ErrEmptyText):
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
	case errors.Is(err, exam.ErrGeneration),
		errors.Is(err, exam.ErrInvalidResponse),
		errors.Is(err, domain.ErrInvalidPaper):
		h.writeError(w, http.StatusBadGateway, err.Error(), "generation_error")
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, err.Error(), "internal_error")
	}
}

// isNotFound checks if an error is a store or blob not found error.
func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, blob.ErrNotFound)
}
