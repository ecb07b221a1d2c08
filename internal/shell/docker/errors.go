package docker

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Image errors
	ErrImageNotFound    = errors.New("image not found")
	ErrImageBuildFailed = errors.New("image build failed")
	ErrImagePushFailed  = errors.New("image push failed")
	ErrNoTag            = errors.New("image tag is required")

	// Build context errors
	ErrContextNotFound = errors.New("build context directory not found")

	// Container errors
	ErrContainerNotFound = errors.New("container not found")
	ErrSmokeFailed       = errors.New("container did not accept connections")

	// Connection errors
	ErrConnectionFailed = errors.New("docker connection failed")
	ErrTimeout          = errors.New("operation timed out")
)

// DockerError wraps errors with additional context.
type DockerError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (image, container)
	ID      string // Entity ID or reference if applicable
	Message string
	Err     error
}

func (e *DockerError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DockerError) Unwrap() error {
	return e.Err
}

// NewDockerError creates a new DockerError.
func NewDockerError(op, entity, id, message string, err error) *DockerError {
	return &DockerError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
