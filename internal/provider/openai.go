package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

const (
	DefaultGrokBaseURL   = "https://api.x.ai/v1"
	DefaultGrokModel     = "grok-3-mini"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
)

// ---------------------------------------------------------------------------
// Shared chat-completions adapter
// ---------------------------------------------------------------------------

// chatCompletionsProvider speaks the OpenAI chat-completions streaming
// protocol. xAI's Grok API is wire-compatible with it, so GrokProvider and
// OpenAIProvider are thin named wrappers that only differ in kind, base URL
// and default model.
type chatCompletionsProvider struct {
	kind    Kind
	apiKey  string
	baseURL string
	model   string
	http    streamClient
}

func newChatCompletionsProvider(kind Kind, opts Options, defBaseURL, defModel string) chatCompletionsProvider {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defBaseURL
	}
	return chatCompletionsProvider{
		kind:    kind,
		apiKey:  opts.APIKey,
		baseURL: baseURL,
		model:   resolveModel(opts.Model, defModel),
		http:    newStreamClient(kind, opts),
	}
}

// Kind returns the provider tag.
func (p *chatCompletionsProvider) Kind() Kind {
	return p.kind
}

// ChatCompletionStream POSTs {model, messages, stream:true} to
// /chat/completions and decodes the SSE reply.
func (p *chatCompletionsProvider) ChatCompletionStream(ctx context.Context, req *StreamRequest) (<-chan StreamChunk, error) {
	model := resolveModel(req.Model, p.model)

	body := chatCompletionsRequest{
		Model:    model,
		Messages: buildMessages(req),
		Stream:   true,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.apiKey)

	return p.http.openStream(ctx, model, p.baseURL+"/chat/completions", body, header, decodeChatCompletionsLine)
}

// GrokProvider talks to xAI's Grok API.
type GrokProvider struct {
	chatCompletionsProvider
}

// NewGrokProvider creates a GrokProvider.
func NewGrokProvider(opts Options) *GrokProvider {
	return &GrokProvider{newChatCompletionsProvider(KindGrok, opts, DefaultGrokBaseURL, DefaultGrokModel)}
}

// OpenAIProvider talks to OpenAI's chat completions API.
type OpenAIProvider struct {
	chatCompletionsProvider
}

// NewOpenAIProvider creates an OpenAIProvider.
func NewOpenAIProvider(opts Options) *OpenAIProvider {
	return &OpenAIProvider{newChatCompletionsProvider(KindOpenAI, opts, DefaultOpenAIBaseURL, DefaultOpenAIModel)}
}

// ---------------------------------------------------------------------------
// Chat-completions wire types
// ---------------------------------------------------------------------------

type chatCompletionsRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// chatCompletionsChunk is one "data:" event. Content stays raw because
// some compatible servers send a list of typed segments instead of a plain
// string.
type chatCompletionsChunk struct {
	Choices []struct {
		Delta struct {
			Content json.RawMessage `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type contentSegment struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// decodeChatCompletionsLine handles one SSE line. "data: [DONE]" ends the
// stream; any other data line must be JSON with choices[0].delta.content.
// Malformed JSON and empty content are skipped.
func decodeChatCompletionsLine(line string) ([]string, bool) {
	payload, ok := sseData(line)
	if !ok || payload == "" {
		return nil, false
	}
	if payload == "[DONE]" {
		return nil, true
	}

	var chunk chatCompletionsChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return nil, false
	}
	if len(chunk.Choices) == 0 {
		return nil, false
	}

	text, ok := flattenContent(chunk.Choices[0].Delta.Content)
	if !ok || text == "" {
		return nil, false
	}
	return []string{text}, false
}

// flattenContent turns delta.content into a single string. A plain string
// is returned as-is; a list has its text segments concatenated, and any
// segment that is not text contributes nothing.
func flattenContent(raw json.RawMessage) (string, bool) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return "", true
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true

	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return "", false
		}
		var b strings.Builder
		for _, item := range items {
			var seg contentSegment
			if err := json.Unmarshal(item, &seg); err != nil {
				continue
			}
			if seg.Type == "" || seg.Type == "text" {
				b.WriteString(seg.Text)
			}
		}
		return b.String(), true
	}

	return "", false
}
