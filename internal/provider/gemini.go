package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// DefaultGeminiBaseURL is Google's Generative Language API root.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// DefaultGeminiModel is used when neither config nor request picks a model.
const DefaultGeminiModel = "gemini-2.0-flash"

// ---------------------------------------------------------------------------
// GeminiProvider struct + constructor
// ---------------------------------------------------------------------------

// GeminiProvider implements Provider for Google's native Gemini API. Unlike
// Grok and OpenAI, Gemini does not speak the chat-completions shape, so this
// adapter translates our messages into contents/parts on the way out and
// reads candidates[].content.parts[].text on the way back.
type GeminiProvider struct {
	apiKey  string // sent as the ?key= query parameter, not a header
	baseURL string
	model   string
	http    streamClient
}

// NewGeminiProvider creates a GeminiProvider. The *http.Client inside opts is
// injected rather than built here so tests can point it at an httptest
// server or a cassette recorder, the same way you'd hand a custom Axios
// instance to a service in Express.
func NewGeminiProvider(opts Options) *GeminiProvider {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	return &GeminiProvider{
		apiKey:  opts.APIKey,
		baseURL: baseURL,
		model:   resolveModel(opts.Model, DefaultGeminiModel),
		http:    newStreamClient(KindGemini, opts),
	}
}

// Kind returns KindGemini.
func (g *GeminiProvider) Kind() Kind {
	return KindGemini
}

// ---------------------------------------------------------------------------
// Gemini API types (unexported, only this file uses them)
// ---------------------------------------------------------------------------

// --- Request types ---

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
}

// geminiContent is one turn. Gemini uses "parts" because it supports
// multimodal input; we only ever send a single text part.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

// --- Response types ---

// geminiStreamEvent is one SSE frame. Gemini normally puts the text under
// candidates[].content; some frames carry it under candidates[].delta
// instead, so both are decoded.
type geminiStreamEvent struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiCandidate struct {
	Content *geminiContent `json:"content"`
	Delta   *struct {
		Content *geminiContent `json:"content"`
	} `json:"delta"`
}

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

// geminiRole maps our roles onto Gemini's two: "model" for the assistant and
// "user" for everything else. A system turn inside the history therefore
// reaches Gemini as a user turn.
func geminiRole(r Role) string {
	if r == RoleAssistant {
		return "model"
	}
	return "user"
}

// toGeminiRequest lays the conversation out as Gemini expects: the system
// prompt goes into system_instruction (omitted when empty), then the
// history in order, then the new user turn.
func toGeminiRequest(req *StreamRequest) *geminiRequest {
	gr := &geminiRequest{
		Contents: make([]geminiContent, 0, len(req.History)+1),
	}

	if req.SystemPrompt != "" {
		gr.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: req.SystemPrompt}},
		}
	}

	for _, msg := range req.History {
		gr.Contents = append(gr.Contents, geminiContent{
			Role:  geminiRole(msg.Role),
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}

	gr.Contents = append(gr.Contents, geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: req.Text}},
	})

	return gr
}

// ---------------------------------------------------------------------------
// Streaming: ChatCompletionStream
// ---------------------------------------------------------------------------

// ChatCompletionStream POSTs to streamGenerateContent with alt=sse, which
// makes Gemini answer with Server-Sent Events instead of one JSON array.
func (g *GeminiProvider) ChatCompletionStream(ctx context.Context, req *StreamRequest) (<-chan StreamChunk, error) {
	model := resolveModel(req.Model, g.model)

	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s",
		g.baseURL, url.PathEscape(model), url.QueryEscape(g.apiKey),
	)

	return g.http.openStream(ctx, model, endpoint, toGeminiRequest(req), nil, decodeGeminiLine)
}

// decodeGeminiLine turns one SSE line into deltas. Only the first candidate
// is read: the non-empty part texts of content.parts, then those of
// delta.content.parts, in order. Gemini has no [DONE] marker; the stream
// simply ends. Lines that are not data lines, or do not parse, are skipped.
func decodeGeminiLine(line string) ([]string, bool) {
	payload, ok := sseData(line)
	if !ok || payload == "" {
		return nil, false
	}

	var event geminiStreamEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, false
	}
	if len(event.Candidates) == 0 {
		return nil, false
	}

	c := event.Candidates[0]
	deltas := appendPartTexts(nil, c.Content)
	if c.Delta != nil {
		deltas = appendPartTexts(deltas, c.Delta.Content)
	}
	return deltas, false
}

func appendPartTexts(deltas []string, content *geminiContent) []string {
	if content == nil {
		return deltas
	}
	for _, p := range content.Parts {
		if p.Text != "" {
			deltas = append(deltas, p.Text)
		}
	}
	return deltas
}
