package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/cassette"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/recorder"
)

func TestChatCompletions_Transcript(t *testing.T) {
	// 3 deltas, and 7 lines that must be skipped without ending the stream.
	srv := sseServer(t,
		": keep-alive comment",
		"event: message",
		`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
		"",
		`data: {"choices":[{"delta":{"content":"He"}}]}`,
		"",
		`data: {not json`,
		"id: 7",
		`data: {"choices":[{"delta":{"content":""}}]}`,
		`data: {"choices":[]}`,
		`data: {"choices":[{"delta":{"content":[{"type":"text","text":"ll"},{"type":"image_url","image_url":{"url":"x"}},{"type":"text","text":"o"}]}}]}`,
		"retry: 1000",
		`data: {"choices":[{"delta":{"content":"!"}}]}`,
		"data: [DONE]",
		`data: {"choices":[{"delta":{"content":"after done"}}]}`,
	)

	p := NewGrokProvider(Options{APIKey: "k", BaseURL: srv.URL, Client: srv.Client()})

	ch, err := p.ChatCompletionStream(context.Background(), &StreamRequest{Text: "hi"})
	require.NoError(t, err)

	deltas, streamErr := collect(t, ch)
	require.NoError(t, streamErr)
	assert.Equal(t, []string{"He", "llo", "!"}, deltas)
}

func TestChatCompletions_EndsWithoutDone(t *testing.T) {
	srv := sseServer(t, `data: {"choices":[{"delta":{"content":"only"}}]}`)

	p := NewOpenAIProvider(Options{BaseURL: srv.URL, Client: srv.Client()})
	ch, err := p.ChatCompletionStream(context.Background(), &StreamRequest{Text: "hi"})
	require.NoError(t, err)

	deltas, streamErr := collect(t, ch)
	require.NoError(t, streamErr)
	assert.Equal(t, []string{"only"}, deltas)
}

func TestChatCompletions_Request(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody chatCompletionsRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Options{APIKey: "sk-test", BaseURL: srv.URL + "/", Model: "gpt-4o", Client: srv.Client()})

	history := []Message{
		{Role: RoleUser, Content: "q1"},
		{Role: RoleAssistant, Content: "a1"},
	}
	ch, err := p.ChatCompletionStream(context.Background(), &StreamRequest{
		Text:         "q2",
		History:      history,
		SystemPrompt: "be brief",
	})
	require.NoError(t, err)
	_, _ = collect(t, ch)

	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o", gotBody.Model)
	assert.True(t, gotBody.Stream)
	assert.Equal(t, []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "q1"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleUser, Content: "q2"},
	}, gotBody.Messages)
}

func TestChatCompletions_ModelOverride(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chatCompletionsRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model
	}))
	defer srv.Close()

	p := NewGrokProvider(Options{BaseURL: srv.URL, Client: srv.Client()})
	ch, err := p.ChatCompletionStream(context.Background(), &StreamRequest{Text: "x", Model: "grok-4"})
	require.NoError(t, err)
	_, _ = collect(t, ch)
	assert.Equal(t, "grok-4", gotModel)

	ch, err = p.ChatCompletionStream(context.Background(), &StreamRequest{Text: "x"})
	require.NoError(t, err)
	_, _ = collect(t, ch)
	assert.Equal(t, DefaultGrokModel, gotModel)
}

func TestChatCompletions_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Options{BaseURL: srv.URL, Client: srv.Client()})
	ch, err := p.ChatCompletionStream(context.Background(), &StreamRequest{Text: "hi"})
	require.Error(t, err)
	assert.Nil(t, ch)

	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, KindOpenAI, upErr.Provider)
	assert.Equal(t, http.StatusInternalServerError, upErr.StatusCode)
	assert.Equal(t, "rate limited", upErr.Message)
	assert.Contains(t, upErr.Body, "rate limited")
}

func TestFlattenContent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"missing", ``, "", true},
		{"null", `null`, "", true},
		{"string", `"hello"`, "hello", true},
		{"segments", `[{"type":"text","text":"a"},{"type":"text","text":"b"}]`, "ab", true},
		{"non-text segment", `[{"type":"image_url"},{"type":"text","text":"c"}]`, "c", true},
		{"untyped segment", `[{"text":"d"}]`, "d", true},
		{"number", `42`, "", false},
		{"broken list", `[{"type":`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := flattenContent(json.RawMessage(tt.raw))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestChatCompletions_Cassette replays a recorded OpenAI stream, so the
// decoder is exercised against real upstream framing.
func TestChatCompletions_Cassette(t *testing.T) {
	rec, err := recorder.New("testdata/openai_stream",
		recorder.WithMode(recorder.ModeReplayOnly),
		recorder.WithSkipRequestLatency(true),
		recorder.WithMatcher(func(r *http.Request, i cassette.Request) bool {
			return r.Method == i.Method && r.URL.String() == i.URL
		}),
	)
	require.NoError(t, err)
	defer rec.Stop()

	p := NewOpenAIProvider(Options{
		APIKey: "sk-redacted",
		Model:  "gpt-4o-mini",
		Client: rec.GetDefaultClient(),
	})

	ch, err := p.ChatCompletionStream(context.Background(), &StreamRequest{
		Text:         "Say hello",
		SystemPrompt: "You are terse.",
	})
	require.NoError(t, err)

	deltas, streamErr := collect(t, ch)
	require.NoError(t, streamErr)
	assert.Equal(t, []string{"Hello", "!", " How", " can", " I", " help", "?"}, deltas)
}
