package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect drains ch and returns every delta plus the first chunk error.
func collect(t *testing.T, ch <-chan StreamChunk) ([]string, error) {
	t.Helper()
	var deltas []string
	var err error
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return deltas, err
			}
			if chunk.Err != nil && err == nil {
				err = chunk.Err
				continue
			}
			deltas = append(deltas, chunk.Delta)
		case <-timeout:
			t.Fatal("stream did not finish in time")
			return nil, nil
		}
	}
}

// sseServer returns an httptest server that answers every request with the
// given SSE lines, flushing after each one.
func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n", line)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseKind(t *testing.T) {
	for _, name := range []string{"grok", "OpenAI", " gemini "} {
		k, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, Kind(strings.ToLower(strings.TrimSpace(name))), k)
	}

	_, err := ParseKind("anthropic")
	assert.Error(t, err)
}

func TestNew_AllKinds(t *testing.T) {
	for _, k := range Kinds {
		p, err := New(k, Options{APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, k, p.Kind())
	}

	_, err := New(Kind("mistral"), Options{})
	assert.Error(t, err)
}

func TestBuildMessages_Order(t *testing.T) {
	histories := [][]Message{
		nil,
		{{Role: RoleUser, Content: "a"}},
		{
			{Role: RoleAssistant, Content: "b"},
			{Role: RoleUser, Content: "a"},
			{Role: RoleSystem, Content: "s2"},
			{Role: RoleUser, Content: "a"},
		},
	}

	for i, h := range histories {
		t.Run(fmt.Sprintf("history_%d", i), func(t *testing.T) {
			msgs := buildMessages(&StreamRequest{Text: "now", History: h, SystemPrompt: "sys"})

			require.Len(t, msgs, len(h)+2)
			assert.Equal(t, Message{Role: RoleSystem, Content: "sys"}, msgs[0])
			assert.Equal(t, h, nilIfEmpty(msgs[1:len(msgs)-1]))
			assert.Equal(t, Message{Role: RoleUser, Content: "now"}, msgs[len(msgs)-1])
		})
	}
}

func TestBuildMessages_EmptySystemPromptStillFirst(t *testing.T) {
	msgs := buildMessages(&StreamRequest{Text: "hi"})
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Empty(t, msgs[0].Content)
}

func TestResolveModel(t *testing.T) {
	assert.Equal(t, "override", resolveModel("override", "def"))
	assert.Equal(t, "def", resolveModel("", "def"))
	assert.Equal(t, "def", resolveModel("  ", "def"))
}

func TestUpstreamError(t *testing.T) {
	err := newUpstreamError(KindOpenAI, 429, []byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	assert.Equal(t, 429, err.HTTPStatusCode())
	assert.Equal(t, "rate limited", err.Message)
	assert.Contains(t, err.Error(), "openai API error (status 429)")
	assert.Contains(t, err.Error(), "rate limited")

	plain := newUpstreamError(KindGrok, 502, []byte("bad gateway"))
	assert.Empty(t, plain.Message)
	assert.Equal(t, "grok API error (status 502): bad gateway", plain.Error())
}

func TestIdleTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewOpenAIProvider(Options{
		APIKey:      "k",
		BaseURL:     srv.URL,
		Client:      srv.Client(),
		IdleTimeout: 50 * time.Millisecond,
	})

	ch, err := p.ChatCompletionStream(context.Background(), &StreamRequest{Text: "hello"})
	require.NoError(t, err)

	deltas, streamErr := collect(t, ch)
	assert.Equal(t, []string{"Hi"}, deltas)
	require.Error(t, streamErr)
	assert.ErrorIs(t, streamErr, ErrIdleTimeout)
}

func TestIdleTimeout_ResetByReads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 5; i++ {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"%d\"}}]}\n\n", i)
			flusher.Flush()
			time.Sleep(40 * time.Millisecond)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	// Total stream time is well over the idle timeout, but no single gap is.
	p := NewGrokProvider(Options{
		BaseURL:     srv.URL,
		Client:      srv.Client(),
		IdleTimeout: 150 * time.Millisecond,
	})

	ch, err := p.ChatCompletionStream(context.Background(), &StreamRequest{Text: "count"})
	require.NoError(t, err)

	deltas, streamErr := collect(t, ch)
	require.NoError(t, streamErr)
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, deltas)
}

// A consumer that stalls longer than the idle timeout must not cancel an
// upstream that is still delivering on time.
func TestIdleTimeout_NotChargedForSlowConsumer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"A\"}}]}\n\n")
		flusher.Flush()
		time.Sleep(20 * time.Millisecond)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"B\"}}]}\n\n")
		flusher.Flush()
		time.Sleep(20 * time.Millisecond)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Options{
		BaseURL:     srv.URL,
		Client:      srv.Client(),
		IdleTimeout: 50 * time.Millisecond,
	})

	ch, err := p.ChatCompletionStream(context.Background(), &StreamRequest{Text: "hi"})
	require.NoError(t, err)

	first := <-ch
	require.NoError(t, first.Err)
	assert.Equal(t, "A", first.Delta)

	// Stall well past the idle timeout before reading on.
	time.Sleep(200 * time.Millisecond)

	deltas, streamErr := collect(t, ch)
	require.NoError(t, streamErr)
	assert.Equal(t, []string{"B"}, deltas)
}

func TestCancellationClosesStream(t *testing.T) {
	upstreamDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(upstreamDone)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Options{BaseURL: srv.URL, Client: srv.Client()})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.ChatCompletionStream(ctx, &StreamRequest{Text: "hi"})
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "first", first.Delta)

	cancel()

	// Drain; the channel must close without the upstream ever finishing.
	_, _ = collect(t, ch)

	select {
	case <-upstreamDone:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request was not aborted after cancellation")
	}
}

func nilIfEmpty(m []Message) []Message {
	if len(m) == 0 {
		return nil
	}
	return m
}
