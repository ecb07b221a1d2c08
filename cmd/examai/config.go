package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Store   StoreConfig   `mapstructure:"store"`
	Storage StorageConfig `mapstructure:"storage"`
	GCP     GCPConfig     `mapstructure:"gcp"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	CORS    CORSConfig    `mapstructure:"cors"`
	Docker  DockerConfig  `mapstructure:"docker"`
	Upload  UploadConfig  `mapstructure:"upload"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	// Port is kept raw so that an unset or malformed PORT is reported by the
	// launcher instead of being coerced to zero.
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig selects the exam paper store.
type StoreConfig struct {
	Driver        string `mapstructure:"driver"`
	DSN           string `mapstructure:"dsn"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

// StorageConfig selects the object storage for uploads.
type StorageConfig struct {
	Driver   string `mapstructure:"driver"`
	Bucket   string `mapstructure:"bucket"`
	LocalDir string `mapstructure:"local_dir"`
}

// GCPConfig holds Google Cloud client settings shared by Storage and Vision.
type GCPConfig struct {
	Credentials     string `mapstructure:"credentials"`
	StorageEndpoint string `mapstructure:"storage_endpoint"`
	VisionEndpoint  string `mapstructure:"vision_endpoint"`
	WithoutAuth     bool   `mapstructure:"without_auth"`
}

// LLMConfig configures the model used for exam generation.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// WorkerConfig configures the background job runner.
type WorkerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	LeaseGrace    time.Duration `mapstructure:"lease_grace"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DockerConfig holds Docker client configuration for the image commands.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// UploadConfig bounds request bodies and batch concurrency.
type UploadConfig struct {
	MaxBytes      int64 `mapstructure:"max_bytes"`
	MaxConcurrent int   `mapstructure:"max_concurrent"`
}

// =============================================================================
// Config Loading
// =============================================================================

// platformEnv maps config keys to the unprefixed variables set by the
// hosting platform and the deployment's .env file.
var platformEnv = map[string][]string{
	"server.port":          {"PORT"},
	"storage.bucket":       {"GCS_BUCKET_NAME"},
	"gcp.credentials":      {"GOOGLE_APPLICATION_CREDENTIALS_OCR"},
	"llm.api_key":          {"CLAUDE_API_KEY"},
	"store.mongo_uri":      {"MONGO_URI", "MONGO_CLIENT"},
	"store.mongo_database": {"MONGO_DB_NAME"},
}

// LoadConfig loads configuration from .env, file and environment.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "")
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.write_timeout", "10m")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "mongo")
	v.SetDefault("store.dsn", "./data/examai.db")
	v.SetDefault("store.mongo_uri", "")
	v.SetDefault("store.mongo_database", "examai")
	v.SetDefault("storage.driver", "gcs")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.local_dir", "./data/uploads")
	v.SetDefault("gcp.credentials", "")
	v.SetDefault("gcp.storage_endpoint", "")
	v.SetDefault("gcp.vision_endpoint", "")
	v.SetDefault("gcp.without_auth", false)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.poll_interval", "5s")
	v.SetDefault("worker.job_timeout", "10m")
	v.SetDefault("worker.retry_delay", "60s")
	v.SetDefault("worker.max_concurrent", 2)
	v.SetDefault("worker.max_attempts", 4)
	v.SetDefault("worker.lease_grace", "60s")
	v.SetDefault("cors.allowed_origins", []string{
		"http://localhost:3000",
		"http://169.254.9.73:3000",
		"http://127.0.0.1:3000",
	})
	v.SetDefault("docker.host", "")
	v.SetDefault("upload.max_bytes", 32<<20)
	v.SetDefault("upload.max_concurrent", 4)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// A missing file falls back to defaults.
		}
	}

	v.SetEnvPrefix("EXAMAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Prefixed variables win over the platform names.
	for key, names := range platformEnv {
		prefixed := "EXAMAI_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
