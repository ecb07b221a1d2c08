package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examai/backend/internal/core/exam"
)

type capturedRequest struct {
	Path   string
	APIKey string
	Body   map[string]any
}

func fakeMessagesServer(t *testing.T, status int, reply string, got *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if got != nil {
			got.Path = r.URL.Path
			got.APIKey = r.Header.Get("X-Api-Key")
			_ = json.Unmarshal(body, &got.Body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const okReply = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-sonnet-4-20250514",
  "content": [{"type": "text", "text": "` + "```json\\n{\\\"a\\\": 1}\\n```" + `"}],
  "stop_reason": "end_turn",
  "stop_sequence": null,
  "usage": {"input_tokens": 120, "output_tokens": 40}
}`

func newTestClient(t *testing.T, baseURL string) *AnthropicClient {
	t.Helper()
	c, err := NewAnthropicClient(Config{APIKey: "test-key", BaseURL: baseURL, MaxRetries: 0}, nil)
	require.NoError(t, err)
	return c
}

func TestAnthropicClient_Complete(t *testing.T) {
	var got capturedRequest
	srv := fakeMessagesServer(t, http.StatusOK, okReply, &got)
	c := newTestClient(t, srv.URL)

	text, err := c.Complete(context.Background(), exam.CompletionRequest{System: "be an examiner", Prompt: "make a paper"})
	require.NoError(t, err)
	assert.Equal(t, "```json\n{\"a\": 1}\n```", text)

	assert.Equal(t, "/v1/messages", got.Path)
	assert.Equal(t, "test-key", got.APIKey)
	assert.Equal(t, DefaultModel, got.Body["model"])
	assert.EqualValues(t, DefaultMaxTokens, got.Body["max_tokens"])
	assert.EqualValues(t, 0.7, got.Body["temperature"])

	system, ok := got.Body["system"].([]any)
	require.True(t, ok)
	require.Len(t, system, 1)
	assert.Equal(t, "be an examiner", system[0].(map[string]any)["text"])

	messages, ok := got.Body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])
}

func TestAnthropicClient_APIError(t *testing.T) {
	srv := fakeMessagesServer(t, http.StatusBadRequest,
		`{"type": "error", "error": {"type": "invalid_request_error", "message": "max_tokens too large"}}`, nil)
	c := newTestClient(t, srv.URL)

	_, err := c.Complete(context.Background(), exam.CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestAnthropicClient_EmptyReply(t *testing.T) {
	srv := fakeMessagesServer(t, http.StatusOK, `{
  "id": "msg_02", "type": "message", "role": "assistant", "model": "claude-sonnet-4-20250514",
  "content": [], "stop_reason": "max_tokens", "stop_sequence": null,
  "usage": {"input_tokens": 1, "output_tokens": 0}
}`, nil)
	c := newTestClient(t, srv.URL)

	_, err := c.Complete(context.Background(), exam.CompletionRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestAnthropicClient_WithGenerator(t *testing.T) {
	paper := `{"infront_page": {"title": "Quiz", "subject": "Maths", "total_marks": 50, "exam_time": "01:00", "description": "", "secondary_description": ""},` +
		`"questions_data": {"num_of_section": 1, "section_a": {"title": "A", "child": 1, "questions": {"1": "2+2?"}}}}`
	encoded, err := json.Marshal("```json\n" + paper + "\n```")
	require.NoError(t, err)

	reply := `{"id": "msg_03", "type": "message", "role": "assistant", "model": "claude-sonnet-4-20250514",
  "content": [{"type": "text", "text": ` + string(encoded) + `}], "stop_reason": "end_turn", "stop_sequence": null,
  "usage": {"input_tokens": 1, "output_tokens": 1}}`
	srv := fakeMessagesServer(t, http.StatusOK, reply, nil)

	g := exam.NewGenerator(newTestClient(t, srv.URL))
	got, err := g.Generate(context.Background(), "arithmetic")
	require.NoError(t, err)
	assert.Equal(t, "Quiz", got.InfrontPage.Title)
}

func TestNewAnthropicClient_Defaults(t *testing.T) {
	_, err := NewAnthropicClient(Config{}, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	c, err := NewAnthropicClient(Config{APIKey: "k", Temperature: -1, MaxRetries: -1}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.config.Model)
	assert.Equal(t, DefaultMaxTokens, c.config.MaxTokens)
	assert.Equal(t, DefaultTemperature, c.config.Temperature)
	assert.Equal(t, DefaultMaxRetries, c.config.MaxRetries)
}
