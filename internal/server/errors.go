package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/howard-nolan/aihub/internal/store"
)

// ErrorType is the "type" field of an error response.
type ErrorType string

const (
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	ErrorTypeNotFound       ErrorType = "not_found_error"
	ErrorTypeInternal       ErrorType = "internal_error"
)

// GatewayError is every error a handler reports before the response has
// started. Once a stream is open, errors abort the connection instead.
type GatewayError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Err        error // not exposed to clients
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns StatusCode, or the default for Type.
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON returns the response body: {"error":{"type":...,"message":...}}.
func (e *GatewayError) ToJSON() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

func invalidRequest(message string) *GatewayError {
	return &GatewayError{Type: ErrorTypeInvalidRequest, Message: message, StatusCode: http.StatusBadRequest}
}

func notFound(message string) *GatewayError {
	return &GatewayError{Type: ErrorTypeNotFound, Message: message, StatusCode: http.StatusNotFound}
}

func internalError(message string, err error) *GatewayError {
	return &GatewayError{Type: ErrorTypeInternal, Message: message, StatusCode: http.StatusInternalServerError, Err: err}
}

// upstreamFailure wraps any adapter failure. The upstream detail (status
// and body for an *provider.UpstreamError) stays in the message so callers
// can see why the provider refused.
func upstreamFailure(err error) *GatewayError {
	return internalError("upstream request failed: "+err.Error(), err)
}

// storeError maps store sentinels onto response types.
func storeError(err error) *GatewayError {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFound(err.Error())
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrInvalid):
		return invalidRequest(err.Error())
	default:
		return internalError("storage error", err)
	}
}

// writeJSON writes v as the response body with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError logs internal failures and writes the error body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, gerr *GatewayError) {
	status := gerr.HTTPStatusCode()
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"status", status,
			"error", gerr.Message,
			"cause", gerr.Err,
		)
	}
	writeJSON(w, status, gerr.ToJSON())
}
