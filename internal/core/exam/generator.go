package exam

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/examai/backend/internal/core/domain"
)

var (
	ErrEmptyText  = errors.New("extracted text is empty")
	ErrGeneration = errors.New("exam generation failed")
)

// CompletionRequest is a single-turn request to a language model.
type CompletionRequest struct {
	System string
	Prompt string
}

// Completer returns the text of a model reply.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Generator asks a model for an exam paper and parses the reply.
type Generator struct {
	llm Completer
}

// NewGenerator creates a Generator backed by llm.
func NewGenerator(llm Completer) *Generator {
	return &Generator{llm: llm}
}

// Generate builds a paper from extracted text. Model call failures wrap
// ErrGeneration; unusable replies wrap ErrInvalidResponse or
// domain.ErrInvalidPaper.
func (g *Generator) Generate(ctx context.Context, extractedText string) (*domain.ExamPaper, error) {
	if strings.TrimSpace(extractedText) == "" {
		return nil, ErrEmptyText
	}

	reply, err := g.llm.Complete(ctx, CompletionRequest{
		System: SystemPrompt,
		Prompt: UserPrompt(extractedText),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	return ParsePaper(reply)
}
