package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/howard-nolan/aihub/internal/provider"
)

// maxBodyBytes caps inbound JSON bodies.
const maxBodyBytes = 4 << 20

// hubEnvelope is the part of a hub request shared by the text and form
// routes: everything except what the user actually typed.
type hubEnvelope struct {
	History          []provider.Message `json:"history"`
	ProviderHint     string             `json:"provider_hint"`
	ModelVersionHint string             `json:"model_version_hint"`
	SystemPrompt     string             `json:"system_prompt"`
	CorrelationID    string             `json:"correlation_id"`
	Title            string             `json:"title"`
	PromptKey        string             `json:"prompt_key"`
}

// correlationID is echoed back in the handshake as req_id.
func (e hubEnvelope) correlationID() string {
	if id := strings.TrimSpace(e.CorrelationID); id != "" {
		return id
	}
	if title := strings.TrimSpace(e.Title); title != "" {
		return title
	}
	return uuid.NewString()
}

// aiHubRequest is the body of POST /api/ai_hub/get_prompt_res_text.
type aiHubRequest struct {
	hubEnvelope
	UserInput string `json:"user_input"`
}

// formHubRequest is the body of POST /api/ai_hub/get_form_res_text.
type formHubRequest struct {
	hubEnvelope
	Form   map[string]any    `json:"form"`
	Labels map[string]string `json:"labels"`
}

// promptChatRequest is the body of the raw prompt-chat routes.
type promptChatRequest struct {
	Message      string             `json:"message"`
	History      []provider.Message `json:"history"`
	Model        string             `json:"model"`
	ModelVersion string             `json:"model_version"`
	Prompt       string             `json:"prompt"`
	InputTitle   string             `json:"input_title"`
}

// decodeBody reads one JSON value from the request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) *GatewayError {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			return &GatewayError{
				Type:       ErrorTypeInvalidRequest,
				Message:    fmt.Sprintf("request body exceeds %d bytes", tooBig.Limit),
				StatusCode: http.StatusRequestEntityTooLarge,
			}
		case errors.Is(err, io.EOF):
			return invalidRequest("request body is empty")
		default:
			return invalidRequest("invalid request body: " + err.Error())
		}
	}
	return nil
}

// renderForm turns a form submission into the user turn:
//
//	[Form Submission]
//	Full Name: Kim
//	Age: 30
//
// Fields are sorted by key. A field's label comes from labels, else from the
// key with underscores turned into spaces and each word capitalized.
func renderForm(form map[string]any, labels map[string]string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("[Form Submission]")
	for _, k := range keys {
		label := labels[k]
		if label == "" {
			label = titleCase(strings.ReplaceAll(k, "_", " "))
		}
		fmt.Fprintf(&b, "\n%s: %s", label, formValue(form[k]))
	}
	return b.String()
}

func formValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	}
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
