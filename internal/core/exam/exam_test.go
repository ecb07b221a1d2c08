package exam

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/examai/backend/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const paperJSON = `{
  "infront_page": {"title": "Mock Exam", "subject": "Biology", "total_marks": 50, "exam_time": "01:30",
    "description": "Answer all questions.", "secondary_description": ""},
  "questions_data": {
    "num_of_section": 1,
    "section_a": {"title": "Section A", "child": 2, "questions": {"1": "What is a cell?", "2": "Name two organelles."}}
  }
}`

// =============================================================================
// ExtractJSON Tests
// =============================================================================

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bare", paperJSON},
		{"fenced with tag", "```json\n" + paperJSON + "\n```"},
		{"fenced without tag", "```\n" + paperJSON + "\n```"},
		{"fenced on one line", "```" + `{"a": 1}` + "```"},
		{"surrounding whitespace", "\n\n  ```json\n" + paperJSON + "\n```  \n"},
		{"prose around fence", "Here is your exam paper:\n```json\n" + paperJSON + "\n```\nGood luck!"},
		{"prose without fence", "Sure! " + paperJSON + " Let me know if you need changes."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := ExtractJSON(tt.input)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(string(raw), "{"))
			assert.True(t, strings.HasSuffix(string(raw), "}"))
		})
	}
}

func TestExtractJSON_Invalid(t *testing.T) {
	for _, input := range []string{"", "   ", "```json\n```", "no json here", "```json\n{\"a\": }\n```"} {
		_, err := ExtractJSON(input)
		assert.ErrorIs(t, err, ErrInvalidResponse, "%q", input)
	}
}

// =============================================================================
// ParsePaper Tests
// =============================================================================

func TestParsePaper(t *testing.T) {
	paper, err := ParsePaper("```json\n" + paperJSON + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "Mock Exam", paper.InfrontPage.Title)
	assert.Equal(t, 2, paper.QuestionsData.QuestionCount())
}

func TestParsePaper_WrongShape(t *testing.T) {
	_, err := ParsePaper(`{"infront_page": "oops"}`)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestParsePaper_FailsValidation(t *testing.T) {
	_, err := ParsePaper(`{"infront_page": {"title": "x", "total_marks": 50}, "questions_data": {"num_of_section": 0}}`)
	assert.ErrorIs(t, err, domain.ErrNoSections)
}

// =============================================================================
// Prompt Tests
// =============================================================================

func TestUserPrompt(t *testing.T) {
	prompt := UserPrompt("  Photosynthesis converts light into chemical energy.  \n")
	assert.Contains(t, prompt, "for 50 marks")
	assert.Contains(t, prompt, "---\nProvided Information:\nPhotosynthesis converts light into chemical energy.\n---")
	assert.Contains(t, prompt, "marking scheme")
}

func TestSystemPrompt_ExampleParses(t *testing.T) {
	paper, err := ParsePaper(SystemPrompt[strings.Index(SystemPrompt, "```json"):])
	require.NoError(t, err)
	assert.Equal(t, 2, paper.QuestionsData.NumOfSection)
}

// =============================================================================
// Generator Tests
// =============================================================================

type stubCompleter struct {
	reply string
	err   error
	got   CompletionRequest
}

func (s *stubCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	s.got = req
	return s.reply, s.err
}

func TestGenerator_Generate(t *testing.T) {
	llm := &stubCompleter{reply: "```json\n" + paperJSON + "\n```"}
	g := NewGenerator(llm)

	paper, err := g.Generate(context.Background(), "cells and organelles")
	require.NoError(t, err)
	assert.Equal(t, "Biology", paper.InfrontPage.Subject)
	assert.Equal(t, SystemPrompt, llm.got.System)
	assert.Contains(t, llm.got.Prompt, "cells and organelles")
}

func TestGenerator_EmptyText(t *testing.T) {
	llm := &stubCompleter{}
	_, err := NewGenerator(llm).Generate(context.Background(), " \n ")
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Empty(t, llm.got.Prompt)
}

func TestGenerator_ModelError(t *testing.T) {
	cause := errors.New("overloaded")
	_, err := NewGenerator(&stubCompleter{err: cause}).Generate(context.Background(), "text")
	assert.ErrorIs(t, err, ErrGeneration)
	assert.ErrorIs(t, err, cause)
}

func TestGenerator_BadReply(t *testing.T) {
	_, err := NewGenerator(&stubCompleter{reply: "I cannot help with that."}).Generate(context.Background(), "text")
	assert.ErrorIs(t, err, ErrInvalidResponse)
	assert.NotErrorIs(t, err, ErrGeneration)
}
