package docker

import (
	"context"
	"io"
	"time"

	"github.com/examai/backend/internal/core/image"
)

// =============================================================================
// Client Interface
// =============================================================================

// Client builds, publishes and smoke-tests the service image.
type Client interface {
	// Ping checks that the Docker daemon is reachable.
	Ping(ctx context.Context) error

	// BuildImage builds plan against the application tree in opts.ContextDir.
	BuildImage(ctx context.Context, plan *image.Plan, opts BuildOptions) (*BuildResult, error)

	// PushImage pushes a tagged image to its registry.
	PushImage(ctx context.Context, ref string, opts PushOptions) error

	// Smoke runs the image with PORT set and waits until it accepts TCP
	// connections. The container is always removed.
	Smoke(ctx context.Context, opts SmokeOptions) (*SmokeResult, error)

	// Close releases the connection to the daemon.
	Close() error
}

// =============================================================================
// Build Types
// =============================================================================

// BuildOptions configures an image build.
type BuildOptions struct {
	ContextDir string
	Tags       []string
	NoCache    bool
	Pull       bool
	Platform   string
	Labels     map[string]string

	// Output receives the build log. Nil discards it.
	Output io.Writer
}

// BuildResult describes a built image.
type BuildResult struct {
	ImageID     string
	Tags        []string
	ManifestKey string
	Duration    time.Duration
}

// =============================================================================
// Push Types
// =============================================================================

// PushOptions carries registry credentials.
type PushOptions struct {
	Username      string
	Password      string
	ServerAddress string

	// Output receives the push log. Nil discards it.
	Output io.Writer
}

// =============================================================================
// Smoke Types
// =============================================================================

// SmokeOptions configures a smoke run.
type SmokeOptions struct {
	Image string
	// Port is the value given to the container as PORT.
	Port int
	Env  map[string]string
	// Timeout bounds the wait for the first accepted connection.
	Timeout time.Duration
	// HealthPath, when set, must answer a GET with a status below 500.
	HealthPath string
}

// SmokeResult reports a successful smoke run.
type SmokeResult struct {
	ContainerID string
	HostPort    int
	Duration    time.Duration
}
