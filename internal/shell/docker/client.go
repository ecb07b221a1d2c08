// Package docker builds, pushes and smoke-tests the service image with the
// Docker Engine API.
package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	imagetypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/moby/patternmatcher/ignorefile"

	"github.com/examai/backend/internal/core/image"
)

// dockerfileName is the path the generated Dockerfile takes inside the
// build context. It never collides with a Dockerfile in the tree.
const dockerfileName = ".examai.Dockerfile"

// ManifestKeyLabel carries the manifest cache key on built images.
const ManifestKeyLabel = "io.examai.manifest-key"

// =============================================================================
// Docker Client Implementation
// =============================================================================

// DockerClient implements the Client interface using the Docker SDK.
type DockerClient struct {
	cli    *client.Client
	logger *slog.Logger
}

// NewDockerClient creates a new Docker client.
// If host is empty, it uses the default Docker host from environment.
// On macOS with Docker Desktop, it falls back to the per-user socket.
func NewDockerClient(ctx context.Context, host string, logger *slog.Logger) (*DockerClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "docker")

	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewDockerClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	if _, pingErr := cli.Ping(ctx); pingErr != nil && host == "" {
		homeDir, _ := os.UserHomeDir()
		desktopSocket := "unix://" + homeDir + "/.docker/run/docker.sock"

		cli2, err2 := client.NewClientWithOpts(
			client.WithHost(desktopSocket),
			client.WithAPIVersionNegotiation(),
		)
		if err2 == nil {
			if _, pingErr2 := cli2.Ping(ctx); pingErr2 == nil {
				logger.Debug("using Docker Desktop socket", "host", desktopSocket)
				cli.Close()
				return &DockerClient{cli: cli2, logger: logger}, nil
			}
			cli2.Close()
		}
	}

	return &DockerClient{cli: cli, logger: logger}, nil
}

// Ping checks if Docker daemon is reachable.
func (d *DockerClient) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewDockerError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Build
// =============================================================================

// BuildImage sends the application tree, minus .dockerignore matches, with the
// plan's Dockerfile to the daemon and streams the build log to opts.Output.
func (d *DockerClient) BuildImage(ctx context.Context, plan *image.Plan, opts BuildOptions) (*BuildResult, error) {
	if len(opts.Tags) == 0 {
		return nil, NewDockerError("BuildImage", "image", "", "no tag given", ErrNoTag)
	}
	ref := opts.Tags[0]
	if err := plan.Validate(); err != nil {
		return nil, NewDockerError("BuildImage", "image", ref, err.Error(), err)
	}

	manifestKey, err := image.ManifestCacheKey(os.DirFS(opts.ContextDir), plan.Manifests)
	if err != nil {
		return nil, NewDockerError("BuildImage", "image", ref, err.Error(), err)
	}

	buildCtx, err := BuildContext(opts.ContextDir, plan.Dockerfile())
	if err != nil {
		return nil, NewDockerError("BuildImage", "image", ref, err.Error(), err)
	}
	defer buildCtx.Close()

	labels := map[string]string{ManifestKeyLabel: manifestKey}
	for k, v := range opts.Labels {
		labels[k] = v
	}

	start := time.Now()
	launch, _ := plan.Command()
	d.logger.Info("building image",
		"tags", opts.Tags,
		"profile", plan.Profile,
		"context", opts.ContextDir,
		"cmd", launch.Instruction(),
	)

	resp, err := d.cli.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        opts.Tags,
		Dockerfile:  dockerfileName,
		Remove:      true,
		ForceRemove: true,
		NoCache:     opts.NoCache,
		PullParent:  opts.Pull,
		Platform:    opts.Platform,
		Labels:      labels,
	})
	if err != nil {
		return nil, NewDockerError("BuildImage", "image", ref, err.Error(), ErrImageBuildFailed)
	}
	defer resp.Body.Close()

	var imageID string
	aux := func(msg jsonmessage.JSONMessage) {
		if msg.Aux == nil {
			return
		}
		var result struct {
			ID string `json:"ID"`
		}
		if json.Unmarshal(*msg.Aux, &result) == nil && result.ID != "" {
			imageID = result.ID
		}
	}
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, output(opts.Output), 0, false, aux); err != nil {
		return nil, NewDockerError("BuildImage", "image", ref, err.Error(), ErrImageBuildFailed)
	}

	result := &BuildResult{
		ImageID:     imageID,
		Tags:        opts.Tags,
		ManifestKey: manifestKey,
		Duration:    time.Since(start),
	}
	d.logger.Info("image built", "image_id", imageID, "tags", opts.Tags, "duration", result.Duration)
	return result, nil
}

// BuildContext tars dir, honouring its .dockerignore, and adds dockerfile at
// the generated Dockerfile path.
func BuildContext(dir, dockerfile string) (io.ReadCloser, error) {
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrContextNotFound, dir)
	}

	excludes, err := readDockerignore(dir)
	if err != nil {
		return nil, err
	}
	// The generated Dockerfile must always reach the daemon.
	excludes = append(excludes, "!"+dockerfileName)

	tarball, err := archive.TarWithOptions(dir, &archive.TarOptions{ExcludePatterns: excludes})
	if err != nil {
		return nil, fmt.Errorf("archive build context: %w", err)
	}

	content := []byte(dockerfile)
	return archive.ReplaceFileTarWrapper(tarball, map[string]archive.TarModifierFunc{
		dockerfileName: func(_ string, h *tar.Header, _ io.Reader) (*tar.Header, []byte, error) {
			header := &tar.Header{
				Name:     dockerfileName,
				Typeflag: tar.TypeReg,
				Mode:     0o644,
				Size:     int64(len(content)),
				ModTime:  time.Unix(0, 0),
			}
			return header, content, nil
		},
	}), nil
}

func readDockerignore(dir string) ([]string, error) {
	f, err := os.Open(filepath.Join(dir, ".dockerignore"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read .dockerignore: %w", err)
	}
	return patterns, nil
}

// =============================================================================
// Push
// =============================================================================

// PushImage pushes ref, streaming progress to opts.Output.
func (d *DockerClient) PushImage(ctx context.Context, ref string, opts PushOptions) error {
	if ref == "" {
		return NewDockerError("PushImage", "image", "", "no tag given", ErrNoTag)
	}

	auth, err := registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      opts.Username,
		Password:      opts.Password,
		ServerAddress: opts.ServerAddress,
	})
	if err != nil {
		return NewDockerError("PushImage", "image", ref, err.Error(), ErrImagePushFailed)
	}

	reader, err := d.cli.ImagePush(ctx, ref, imagetypes.PushOptions{RegistryAuth: auth})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("PushImage", "image", ref, "image not found", ErrImageNotFound)
		}
		return NewDockerError("PushImage", "image", ref, err.Error(), ErrImagePushFailed)
	}
	defer reader.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(reader, output(opts.Output), 0, false, nil); err != nil {
		return NewDockerError("PushImage", "image", ref, err.Error(), ErrImagePushFailed)
	}
	d.logger.Info("image pushed", "ref", ref)
	return nil
}

// =============================================================================
// Smoke
// =============================================================================

// Smoke starts the image with PORT=opts.Port published on a random loopback
// port and waits for it to accept connections.
func (d *DockerClient) Smoke(ctx context.Context, opts SmokeOptions) (*SmokeResult, error) {
	if opts.Port == 0 {
		opts.Port = image.DefaultPort
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	start := time.Now()

	containerPort := nat.Port(strconv.Itoa(opts.Port) + "/tcp")
	env := []string{"PORT=" + strconv.Itoa(opts.Port)}
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	resp, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        opts.Image,
			Env:          env,
			ExposedPorts: nat.PortSet{containerPort: struct{}{}},
			Labels:       map[string]string{"io.examai.smoke": "true"},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{containerPort: {{HostIP: "127.0.0.1"}}},
		},
		nil, nil, "")
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewDockerError("Smoke", "image", opts.Image, "image not found", ErrImageNotFound)
		}
		return nil, NewDockerError("Smoke", "image", opts.Image, err.Error(), err)
	}
	id := resp.ID
	defer func() {
		rmErr := d.cli.ContainerRemove(context.WithoutCancel(ctx), id, container.RemoveOptions{Force: true, RemoveVolumes: true})
		if rmErr != nil {
			d.logger.Warn("failed to remove smoke container", "container_id", id, "error", rmErr)
		}
	}()

	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, NewDockerError("Smoke", "container", id, err.Error(), ErrSmokeFailed)
	}

	hostPort, err := d.publishedPort(ctx, id, containerPort)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := d.waitListening(waitCtx, id, hostPort, opts.HealthPath); err != nil {
		return nil, NewDockerError("Smoke", "container", id, err.Error()+d.logTail(ctx, id), ErrSmokeFailed)
	}

	result := &SmokeResult{ContainerID: id, HostPort: hostPort, Duration: time.Since(start)}
	d.logger.Info("smoke test passed", "image", opts.Image, "port", opts.Port, "duration", result.Duration)
	return result, nil
}

func (d *DockerClient) publishedPort(ctx context.Context, id string, port nat.Port) (int, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return 0, NewDockerError("Smoke", "container", id, "container not found", ErrContainerNotFound)
		}
		return 0, NewDockerError("Smoke", "container", id, err.Error(), err)
	}
	if info.NetworkSettings == nil {
		return 0, NewDockerError("Smoke", "container", id, "no network settings", ErrSmokeFailed)
	}
	for _, b := range info.NetworkSettings.Ports[port] {
		if p, err := strconv.Atoi(b.HostPort); err == nil {
			return p, nil
		}
	}
	return 0, NewDockerError("Smoke", "container", id, "port "+string(port)+" was not published", ErrSmokeFailed)
}

func (d *DockerClient) waitListening(ctx context.Context, id string, hostPort int, healthPath string) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(hostPort))
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for {
		info, err := d.cli.ContainerInspect(ctx, id)
		if err == nil && info.State != nil && !info.State.Running {
			return fmt.Errorf("container exited with code %d", info.State.ExitCode)
		}

		if lastErr = probe(ctx, addr, healthPath); lastErr == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrTimeout, lastErr)
		case <-ticker.C:
		}
	}
}

func probe(ctx context.Context, addr, healthPath string) error {
	conn, err := (&net.Dialer{Timeout: time.Second}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	conn.Close()
	if healthPath == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("GET %s returned %d", healthPath, resp.StatusCode)
	}
	return nil
}

// logTail returns the last lines of container output, for error messages.
func (d *DockerClient) logTail(ctx context.Context, id string) string {
	rc, err := d.cli.ContainerLogs(context.WithoutCancel(ctx), id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "20",
	})
	if err != nil {
		return ""
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil && buf.Len() == 0 {
		return ""
	}
	if s := strings.TrimSpace(buf.String()); s != "" {
		return "\n" + s
	}
	return ""
}

func output(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
