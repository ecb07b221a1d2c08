package exam

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/examai/backend/internal/core/domain"
)

var ErrInvalidResponse = errors.New("invalid JSON response from model")

const fence = "```"

// ExtractJSON returns the JSON document in a model reply. The reply may be
// bare JSON or wrapped in a markdown code fence, with or without a language
// tag. Text around a fenced block is ignored.
func ExtractJSON(text string) (json.RawMessage, error) {
	cleaned := stripFence(strings.TrimSpace(text))
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrInvalidResponse)
	}
	if !json.Valid([]byte(cleaned)) {
		// Fall back to the outermost object when the model adds prose.
		start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}")
		if start < 0 || end <= start || !json.Valid([]byte(cleaned[start:end+1])) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidResponse, excerpt(cleaned))
		}
		cleaned = cleaned[start : end+1]
	}
	return json.RawMessage(cleaned), nil
}

func stripFence(text string) string {
	open := strings.Index(text, fence)
	if open < 0 {
		return text
	}
	body := text[open+len(fence):]
	// Drop the language tag line, e.g. ```json.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
		body = body[nl+1:]
	}
	if end := strings.Index(body, fence); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func excerpt(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// ParsePaper extracts and decodes an exam paper from a model reply and
// validates it.
func ParsePaper(text string) (*domain.ExamPaper, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}

	var paper domain.ExamPaper
	if err := json.Unmarshal(raw, &paper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := paper.Validate(); err != nil {
		return nil, err
	}
	return &paper, nil
}
