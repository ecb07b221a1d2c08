// Package llm calls the Anthropic Messages API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/examai/backend/internal/core/exam"
)

// Defaults for exam generation.
const (
	DefaultModel       = "claude-sonnet-4-20250514"
	DefaultMaxTokens   = 2000
	DefaultTemperature = 0.7
	DefaultTimeout     = 120 * time.Second
	DefaultMaxRetries  = 2
)

var (
	ErrMissingAPIKey = errors.New("CLAUDE_API_KEY is not set")
	ErrEmptyReply    = errors.New("model reply has no text")
)

// Config configures the Anthropic client.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
}

// AnthropicClient implements exam.Completer.
type AnthropicClient struct {
	client anthropic.Client
	config Config
	logger *slog.Logger
}

// NewAnthropicClient creates a client, filling unset fields with defaults.
func NewAnthropicClient(cfg Config, logger *slog.Logger) (*AnthropicClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature < 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		config: cfg,
		logger: logger.With("component", "llm"),
	}, nil
}

// Complete sends a single user turn and returns the concatenated text blocks
// of the reply.
func (c *AnthropicClient) Complete(ctx context.Context, req exam.CompletionRequest) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.config.Model),
		MaxTokens:   int64(c.config.MaxTokens),
		Temperature: anthropic.Float(c.config.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			c.logger.Warn("messages request rejected", "status", apiErr.StatusCode, "model", c.config.Model)
			return "", fmt.Errorf("anthropic API status %d: %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("anthropic request: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	c.logger.Info("messages request completed",
		"model", c.config.Model,
		"stop_reason", string(msg.StopReason),
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
		"duration", time.Since(start),
	)

	if text.Len() == 0 {
		return "", ErrEmptyReply
	}
	return text.String(), nil
}
