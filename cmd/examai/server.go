package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	"github.com/examai/backend/internal/core/exam"
	"github.com/examai/backend/internal/core/launch"
	"github.com/examai/backend/internal/shell/api"
	"github.com/examai/backend/internal/shell/blob"
	"github.com/examai/backend/internal/shell/gcp"
	"github.com/examai/backend/internal/shell/llm"
	"github.com/examai/backend/internal/shell/ocr"
	"github.com/examai/backend/internal/shell/pipeline"
	"github.com/examai/backend/internal/shell/store"
	"github.com/examai/backend/internal/shell/workers"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitDockerError     = 3
	ExitHTTPServerError = 4
	ExitStorageError    = 5
	ExitBuildError      = 6
	ExitExternalError   = 7
)

// =============================================================================
// Dependencies
// =============================================================================

// Deps are the long-lived components shared by the server and the worker.
type Deps struct {
	Store    store.Store
	Storage  blob.Storage
	Detector ocr.Detector
	Pipeline *pipeline.Service
}

// OpenDeps connects to every backing service named by cfg.
func OpenDeps(ctx context.Context, cfg *Config, logger *slog.Logger) (*Deps, error) {
	d := &Deps{}

	llmClient, err := llm.NewAnthropicClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		BaseURL:     cfg.LLM.BaseURL,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
	}, logger)
	if err != nil {
		return nil, &ServerError{Op: "OpenDeps", Err: err, ExitCode: ExitConfigError}
	}

	d.Store, err = store.Open(ctx, store.Config{
		Driver:        cfg.Store.Driver,
		DSN:           cfg.Store.DSN,
		MongoURI:      cfg.Store.MongoURI,
		MongoDatabase: cfg.Store.MongoDatabase,
	})
	if err != nil {
		return nil, &ServerError{Op: "OpenDeps", Err: err, ExitCode: ExitDatabaseError}
	}

	gcpCfg := gcp.Config{Credentials: cfg.GCP.Credentials, WithoutAuth: cfg.GCP.WithoutAuth}
	storageOpts, err := gcp.ClientOptions(afero.NewOsFs(), withEndpoint(gcpCfg, cfg.GCP.StorageEndpoint))
	if err != nil {
		d.Close(logger)
		return nil, &ServerError{Op: "OpenDeps", Err: err, ExitCode: ExitConfigError}
	}
	d.Storage, err = blob.Open(ctx, blob.Config{
		Driver:   cfg.Storage.Driver,
		Bucket:   cfg.Storage.Bucket,
		LocalDir: cfg.Storage.LocalDir,
	}, storageOpts...)
	if err != nil {
		d.Close(logger)
		return nil, &ServerError{Op: "OpenDeps", Err: err, ExitCode: ExitStorageError}
	}

	visionOpts, err := gcp.ClientOptions(afero.NewOsFs(), withEndpoint(gcpCfg, cfg.GCP.VisionEndpoint))
	if err != nil {
		d.Close(logger)
		return nil, &ServerError{Op: "OpenDeps", Err: err, ExitCode: ExitConfigError}
	}
	d.Detector, err = ocr.NewVisionDetector(ctx, logger, visionOpts...)
	if err != nil {
		d.Close(logger)
		return nil, &ServerError{Op: "OpenDeps", Err: err, ExitCode: ExitExternalError}
	}

	d.Pipeline = pipeline.NewService(d.Storage, d.Detector, exam.NewGenerator(llmClient), d.Store, pipeline.Config{
		MaxConcurrent: cfg.Upload.MaxConcurrent,
		MaxAttempts:   cfg.Worker.MaxAttempts,
	}, logger)

	logger.Info("dependencies ready",
		"store", cfg.Store.Driver,
		"storage", cfg.Storage.Driver,
		"bucket", d.Storage.Bucket(),
		"credentials", gcpCfg.CredentialSource(),
		"model", cfg.LLM.Model,
	)
	return d, nil
}

func withEndpoint(cfg gcp.Config, endpoint string) gcp.Config {
	cfg.Endpoint = endpoint
	return cfg
}

// Close releases every opened component.
func (d *Deps) Close(logger *slog.Logger) {
	if d.Detector != nil {
		if err := d.Detector.Close(); err != nil {
			logger.Error("vision client close error", "error", err)
		}
	}
	if d.Storage != nil {
		if err := d.Storage.Close(); err != nil {
			logger.Error("storage close error", "error", err)
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			logger.Error("database close error", "error", err)
		}
	}
}

// NewJobRunner builds the background job runner from config.
func NewJobRunner(cfg *Config, d *Deps, logger *slog.Logger) *workers.JobRunner {
	return workers.NewJobRunner(d.Store, d.Pipeline, workers.JobRunnerConfig{
		PollInterval:  cfg.Worker.PollInterval,
		JobTimeout:    cfg.Worker.JobTimeout,
		RetryDelay:    cfg.Worker.RetryDelay,
		MaxConcurrent: cfg.Worker.MaxConcurrent,
		LeaseGrace:    cfg.Worker.LeaseGrace,
	}, logger)
}

// =============================================================================
// Server
// =============================================================================

// Server represents the HTTP API process.
type Server struct {
	config     *Config
	deps       *Deps
	listener   net.Listener
	httpServer *http.Server
	jobRunner  *workers.JobRunner
	logger     *slog.Logger
}

// NewServer resolves the port, opens the dependencies and binds the listener.
func NewServer(ctx context.Context, cfg *Config, logger *slog.Logger) (*Server, error) {
	if _, err := launch.ResolvePort(cfg.Server.Port); err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}

	d, err := OpenDeps(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s, err := newServer(cfg, d, logger)
	if err != nil {
		d.Close(logger)
		return nil, err
	}
	return s, nil
}

// newServer wires the API over already opened dependencies. The listener is
// bound here so that an unusable port fails start-up before anything serves.
func newServer(cfg *Config, d *Deps, logger *slog.Logger) (*Server, error) {
	port, err := launch.ResolvePort(cfg.Server.Port)
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}

	handler := api.NewHandler(d.Pipeline, d.Storage, d.Store, api.Config{
		MaxUploadBytes: cfg.Upload.MaxBytes,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}, logger)

	addr := launch.BindAddress(cfg.Server.Host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &ServerError{Op: "Listen", Err: err, ExitCode: ExitHTTPServerError}
	}

	var runner *workers.JobRunner
	if cfg.Worker.Enabled {
		runner = NewJobRunner(cfg, d, logger)
	}

	return &Server{
		config:   cfg,
		deps:     d,
		listener: ln,
		httpServer: &http.Server{
			Handler:      handler.Routes(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		jobRunner: runner,
		logger:    logger,
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start serves until a shutdown signal, ctx cancellation or a serve error.
func (s *Server) Start(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if s.jobRunner != nil {
		s.jobRunner.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", s.listener.Addr().String())
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		s.Shutdown(context.Background())
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}
	// Shutdown only closes listeners that reached Serve.
	s.listener.Close()

	if s.jobRunner != nil {
		s.jobRunner.Stop()
	}

	s.deps.Close(s.logger)

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// exitCode extracts the exit code carried by err.
func exitCode(err error, fallback int) int {
	var sErr *ServerError
	if errors.As(err, &sErr) {
		return sErr.ExitCode
	}
	return fallback
}
