package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examai/backend/internal/core/domain"
	"github.com/examai/backend/internal/core/exam"
	"github.com/examai/backend/internal/core/launch"
	"github.com/examai/backend/internal/shell/blob"
	"github.com/examai/backend/internal/shell/pipeline"
	"github.com/examai/backend/internal/shell/store"
)

// =============================================================================
// Test Helpers
// =============================================================================

type nopDetector struct{}

func (nopDetector) DetectImage(context.Context, []byte) (*domain.OCRResult, error) {
	return &domain.OCRResult{}, nil
}

func (nopDetector) DetectPDF(context.Context, []byte) (*domain.OCRResult, error) {
	return &domain.OCRResult{}, nil
}

func (nopDetector) DetectPDFAsync(context.Context, string, string) error { return nil }

func (nopDetector) Close() error { return nil }

type nopCompleter struct{}

func (nopCompleter) Complete(context.Context, exam.CompletionRequest) (string, error) {
	return "", nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDeps(t *testing.T) *Deps {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	storage := blob.NewLocalStorage(afero.NewMemMapFs(), "exam-uploads")
	detector := nopDetector{}
	return &Deps{
		Store:    st,
		Storage:  storage,
		Detector: detector,
		Pipeline: pipeline.NewService(storage, detector, exam.NewGenerator(nopCompleter{}), st, pipeline.DefaultConfig(), testLogger()),
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func testConfig(port string) *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            port,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Worker: WorkerConfig{
			Enabled:       true,
			PollInterval:  50 * time.Millisecond,
			JobTimeout:    time.Second,
			RetryDelay:    time.Second,
			MaxConcurrent: 1,
		},
	}
}

// =============================================================================
// Dependency Tests
// =============================================================================

func TestOpenDeps_LogsCredentialSource(t *testing.T) {
	cfg := testConfig("8080")
	cfg.Store = StoreConfig{Driver: store.DriverSQLite, DSN: ":memory:"}
	cfg.Storage = StorageConfig{Driver: blob.DriverLocal, LocalDir: t.TempDir()}
	cfg.GCP = GCPConfig{VisionEndpoint: "127.0.0.1:1", WithoutAuth: true}
	cfg.LLM = LLMConfig{APIKey: "test-key", Model: "claude-test", MaxTokens: 512, Timeout: time.Second}

	var logs bytes.Buffer
	d, err := OpenDeps(context.Background(), cfg, slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)
	defer d.Close(testLogger())

	assert.Contains(t, logs.String(), "dependencies ready")
	assert.Contains(t, logs.String(), "credentials=none")
}

// =============================================================================
// Server Tests
// =============================================================================

func TestNewServer_BindsAllInterfacesOnPort(t *testing.T) {
	port := freePort(t)

	s, err := newServer(testConfig(strconv.Itoa(port)), testDeps(t), testLogger())
	require.NoError(t, err)
	defer s.Shutdown(context.Background())

	addr, ok := s.Addr().(*net.TCPAddr)
	require.True(t, ok)
	assert.Equal(t, port, addr.Port)
	assert.True(t, addr.IP.IsUnspecified(), "bound to %s", addr.IP)
}

func TestServer_StartAcceptsConnections(t *testing.T) {
	port := freePort(t)

	s, err := newServer(testConfig(strconv.Itoa(port)), testDeps(t), testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}

	_, err = net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(port), 200*time.Millisecond)
	assert.Error(t, err, "listener should be closed after shutdown")
}

func TestNewServer_PortErrors(t *testing.T) {
	tests := []struct {
		name string
		port string
		want error
	}{
		{"unset", "", launch.ErrPortUnset},
		{"not a number", "http", launch.ErrPortInvalid},
		{"zero", "0", launch.ErrPortInvalid},
		{"too large", "70000", launch.ErrPortInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewServer(context.Background(), testConfig(tt.port), testLogger())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, ExitConfigError, exitCode(err, -1))
		})
	}
}

func TestNewServer_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "0.0.0.0:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	_, err = newServer(testConfig(strconv.Itoa(port)), testDeps(t), testLogger())
	require.Error(t, err)
	assert.Equal(t, ExitHTTPServerError, exitCode(err, -1))
}

func TestServerError(t *testing.T) {
	err := &ServerError{Op: "Listen", Err: launch.ErrPortUnset, ExitCode: ExitHTTPServerError}
	assert.Equal(t, "Listen: listening port is not set", err.Error())
	assert.ErrorIs(t, err, launch.ErrPortUnset)
	assert.Equal(t, ExitConfigError, exitCode(assert.AnError, ExitConfigError))
}

// =============================================================================
// Command Tests
// =============================================================================

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	code := run([]string{"version"}, &out, io.Discard)

	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out.String(), "examai dev")
}

func TestRun_ServeWithoutPortExitsConfigError(t *testing.T) {
	clearEnv(t)
	t.Setenv("EXAMAI_LOG_LEVEL", "error")

	var stderr bytes.Buffer
	code := run([]string{"serve"}, io.Discard, &stderr)

	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, stderr.String(), "listening port is not set")
}

func TestRun_ImageDockerfile(t *testing.T) {
	clearEnv(t)

	var out bytes.Buffer
	code := run([]string{"image", "dockerfile", "--profile", "python-asgi"}, &out, io.Discard)

	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out.String(), "FROM python:3.11-slim")
	assert.Contains(t, out.String(), "uvicorn app.main_server:app --host 0.0.0.0")
}

func TestRun_ImageDockerfileUnknownProfile(t *testing.T) {
	clearEnv(t)

	code := run([]string{"image", "dockerfile", "--profile", "cobol"}, io.Discard, io.Discard)
	assert.Equal(t, ExitBuildError, code)
}

func TestRun_ImageSmokeBadEnv(t *testing.T) {
	clearEnv(t)

	code := run([]string{"image", "smoke", "examai:latest", "--env", "NOEQUALS"}, io.Discard, io.Discard)
	assert.Equal(t, ExitConfigError, code)
}
