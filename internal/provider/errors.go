package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrIdleTimeout is reported when the upstream stops sending bytes for
// longer than the configured idle timeout.
var ErrIdleTimeout = errors.New("upstream idle timeout")

// UpstreamError is returned when a provider answers with a non-2xx status.
// It is terminal for the request; the gateway never retries.
type UpstreamError struct {
	Provider   Kind
	StatusCode int
	Body       string // full response body, capped at maxErrorBody
	Message    string // error.message from the body, when it is JSON
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, strings.TrimSpace(e.Body))
}

// HTTPStatusCode returns the upstream status code.
func (e *UpstreamError) HTTPStatusCode() int {
	return e.StatusCode
}

// newUpstreamError builds an UpstreamError from a failed response body.
// OpenAI, xAI and Gemini all nest a human-readable message under
// error.message; anything else is kept only as the raw body.
func newUpstreamError(kind Kind, status int, body []byte) *UpstreamError {
	return &UpstreamError{
		Provider:   kind,
		StatusCode: status,
		Body:       string(body),
		Message:    gjson.GetBytes(body, "error.message").String(),
	}
}
