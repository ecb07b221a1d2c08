// Package blob stores uploaded documents in Google Cloud Storage or on a
// local filesystem.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/api/option"
)

// =============================================================================
// Storage Interface
// =============================================================================

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Name        string     `json:"name"`
	Size        int64      `json:"size"`
	Created     *time.Time `json:"created"`
	Updated     *time.Time `json:"updated"`
	ContentType string     `json:"content_type"`
}

// Storage is a flat namespace of named objects inside one bucket.
type Storage interface {
	Upload(ctx context.Context, name string, r io.Reader, contentType string) (*ObjectInfo, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Bucket returns the bucket name reported to clients.
	Bucket() string
	// URI returns the object URI, gs://bucket/name for Cloud Storage.
	URI(name string) string

	Close() error
}

// =============================================================================
// Errors
// =============================================================================

var (
	ErrNotFound       = errors.New("object not found")
	ErrBucketRequired = errors.New("bucket name is required")
	ErrInvalidName    = errors.New("object name is invalid")
	ErrUploadFailed   = errors.New("upload failed")
	ErrUnknownDriver  = errors.New("unknown storage driver")
)

// BlobError wraps storage errors with context.
type BlobError struct {
	Op      string
	Bucket  string
	Name    string
	Message string
	Err     error
}

func (e *BlobError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %s/%s: %s", e.Op, e.Bucket, e.Name, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Bucket, e.Message)
}

func (e *BlobError) Unwrap() error {
	return e.Err
}

// NewBlobError creates a new BlobError.
func NewBlobError(op, bucket, name, message string, err error) *BlobError {
	return &BlobError{
		Op:      op,
		Bucket:  bucket,
		Name:    name,
		Message: message,
		Err:     err,
	}
}

// =============================================================================
// Factory
// =============================================================================

// Storage drivers.
const (
	DriverGCS   = "gcs"
	DriverLocal = "local"
)

// Config selects and configures a storage driver.
type Config struct {
	Driver   string
	Bucket   string
	LocalDir string
}

// Open creates the storage named by cfg.Driver. Client options apply to the
// Cloud Storage driver only.
func Open(ctx context.Context, cfg Config, opts ...option.ClientOption) (Storage, error) {
	switch cfg.Driver {
	case DriverGCS, "":
		return NewGCSStorage(ctx, cfg.Bucket, opts...)
	case DriverLocal:
		return NewLocalDirStorage(cfg.LocalDir)
	default:
		return nil, NewBlobError("Open", cfg.Bucket, "", fmt.Sprintf("driver %q", cfg.Driver), ErrUnknownDriver)
	}
}
