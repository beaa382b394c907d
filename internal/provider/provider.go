// Package provider defines the Provider interface and the three upstream LLM
// adapters (Grok, OpenAI and Gemini).
//
// Every adapter takes the same normalized StreamRequest, translates it into
// its upstream's wire format, opens a streaming HTTP call and decodes the
// upstream's own SSE framing into plain text deltas. The rest of the gateway
// only ever sees StreamChunk values, so it never needs to know which
// upstream actually produced the text.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// Kind is the closed set of upstream providers the gateway can talk to.
type Kind string

const (
	// KindGrok is xAI's OpenAI-compatible API. It is also the default
	// provider when a request carries no usable hint.
	KindGrok Kind = "grok"
	// KindOpenAI is OpenAI's chat completions API.
	KindOpenAI Kind = "openai"
	// KindGemini is Google's native Gemini streaming API.
	KindGemini Kind = "gemini"
)

// Kinds lists every provider kind in a stable order.
var Kinds = []Kind{KindGrok, KindOpenAI, KindGemini}

// ParseKind maps a provider name (case-insensitive) to its Kind.
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	switch k {
	case KindGrok, KindOpenAI, KindGemini:
		return k, nil
	}
	return "", fmt.Errorf("unknown provider %q", name)
}

// Provider is the capability every upstream adapter implements.
type Provider interface {
	// Kind returns the provider tag this adapter serves.
	Kind() Kind

	// ChatCompletionStream opens a streaming call upstream and returns a
	// channel that delivers text deltas as they arrive.
	//
	// Connection failures and non-2xx responses are returned as the error,
	// before any chunk exists. Once the channel is returned, failures are
	// delivered as a final chunk with Err set. The channel is closed when
	// the upstream finishes, fails, or ctx is cancelled; it cannot be
	// restarted.
	ChatCompletionStream(ctx context.Context, req *StreamRequest) (<-chan StreamChunk, error)
}

// ---------------------------------------------------------------------------
// Conversation model
// ---------------------------------------------------------------------------

// Role is the author of one conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in the conversation. This is the OpenAI role +
// content shape; Gemini's adapter translates it into contents/parts.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StreamRequest is the normalized request every adapter receives.
type StreamRequest struct {
	Text         string    // the new user turn
	History      []Message // earlier turns, oldest first
	SystemPrompt string    // may be empty
	Model        string    // overrides the adapter's default model when set
}

// StreamChunk is one piece of a streaming response.
type StreamChunk struct {
	Delta string // the new text fragment
	Err   error  // set on the final chunk when the stream failed
}

// buildMessages lays out the upstream conversation: the system turn first
// (even when empty), then the history in the caller's order, then the new
// user turn. Nothing is reordered or deduplicated.
func buildMessages(req *StreamRequest) []Message {
	msgs := make([]Message, 0, len(req.History)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: req.SystemPrompt})
	msgs = append(msgs, req.History...)
	msgs = append(msgs, Message{Role: RoleUser, Content: req.Text})
	return msgs
}

// resolveModel returns the per-request override, or the adapter default.
func resolveModel(override, def string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}
	return def
}
