package api

import (
	"github.com/examai/backend/internal/core/domain"
	"github.com/examai/backend/internal/shell/blob"
	"github.com/examai/backend/internal/shell/pipeline"
)

// =============================================================================
// Request Types
// =============================================================================

// CreateUserRequest is the request body for creating a user.
type CreateUserRequest struct {
	GenInfo domain.ExamPaper `json:"gen_info"`
}

// GenerateRequest is the request body for generating a paper from text.
type GenerateRequest struct {
	ExtractedText string `json:"extracted_text"`
}

// =============================================================================
// Response Types
// =============================================================================

// MessageResponse carries a single message.
type MessageResponse struct {
	Message string `json:"message"`
}

// UploadResponse is the response for a processed upload.
type UploadResponse struct {
	Message string `json:"message"`
	*pipeline.UploadResult
}

// UploadMultipleResponse is the response for a batch upload.
type UploadMultipleResponse struct {
	Message string               `json:"message"`
	Results []pipeline.BatchItem `json:"results"`
}

// FileListResponse lists stored objects.
type FileListResponse struct {
	Success bool              `json:"success"`
	Files   []blob.ObjectInfo `json:"files"`
	Count   int               `json:"count"`
}

// ExamPaperListResponse is a page of stored exam papers, newest first.
type ExamPaperListResponse struct {
	Papers []domain.ExamPaper `json:"papers"`
	Count  int                `json:"count"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// DeleteFileResponse is the response for a deleted object.
type DeleteFileResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// FileExistsResponse reports whether an object exists.
type FileExistsResponse struct {
	FilePath string `json:"file_path"`
	Exists   bool   `json:"exists"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
