package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/howard-nolan/aihub/internal/provider"
	"github.com/howard-nolan/aihub/internal/router"
	"github.com/howard-nolan/aihub/internal/stream"
)

// handleHealth is a liveness probe. It also reports which providers are
// configured and, when a store is attached, whether it answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"providers": s.registry.Kinds(),
	}
	status := http.StatusOK

	if s.records != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.records.Ping(ctx); err != nil {
			resp["status"] = "degraded"
			resp["storage"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp["storage"] = "ok"
		}
	}

	writeJSON(w, status, resp)
}

// ---------------------------------------------------------------------------
// Hub routes: handshake + ai_output events
// ---------------------------------------------------------------------------

// handleAIHub handles POST /api/ai_hub/get_prompt_res_text.
func (s *Server) handleAIHub(w http.ResponseWriter, r *http.Request) {
	var req aiHubRequest
	if gerr := decodeBody(w, r, &req); gerr != nil {
		s.writeError(w, r, gerr)
		return
	}
	if strings.TrimSpace(req.UserInput) == "" {
		s.writeError(w, r, invalidRequest("user_input must not be empty"))
		return
	}

	s.serveHub(w, r, routeAIHub, req.hubEnvelope, req.UserInput)
}

// handleFormHub handles POST /api/ai_hub/get_form_res_text. The form is
// rendered into a plain-text user turn and then streamed like any other
// hub request.
func (s *Server) handleFormHub(w http.ResponseWriter, r *http.Request) {
	var req formHubRequest
	if gerr := decodeBody(w, r, &req); gerr != nil {
		s.writeError(w, r, gerr)
		return
	}
	if len(req.Form) == 0 {
		s.writeError(w, r, invalidRequest("form must not be empty"))
		return
	}

	s.serveHub(w, r, routeFormHub, req.hubEnvelope, renderForm(req.Form, req.Labels))
}

// serveHub is the common path of the hub routes once the user turn is
// known. Everything up to stream.Write can still fail with a JSON error;
// after the handshake the only failure mode is dropping the connection.
func (s *Server) serveHub(w http.ResponseWriter, r *http.Request, route string, env hubEnvelope, text string) {
	ctx := r.Context()
	reqID := env.correlationID()

	systemPrompt, gerr := s.resolveSystemPrompt(ctx, env.SystemPrompt, env.PromptKey)
	if gerr != nil {
		s.writeError(w, r, gerr)
		return
	}

	kind := router.Select(env.ProviderHint, env.ModelVersionHint)
	p, err := s.registry.Get(kind)
	if err != nil {
		s.writeError(w, r, internalError(err.Error(), err))
		return
	}

	sreq := &provider.StreamRequest{
		Text:         text,
		History:      env.History,
		SystemPrompt: systemPrompt,
		Model:        router.ModelFor(kind, env.ModelVersionHint),
	}

	log := s.logger.With("req_id", reqID, "provider", kind, "route", route)
	log.DebugContext(ctx, "stream starting", "history", len(env.History), "model", sreq.Model)
	s.metrics.Request(route, string(kind))

	start := time.Now()
	n, err := stream.Write(w, reqID, func() (<-chan provider.StreamChunk, error) {
		return p.ChatCompletionStream(ctx, sreq)
	})
	s.finishStream(w, r, log, kind, start, n, err)
}

// resolveSystemPrompt prefers an explicit system prompt, then a stored one
// looked up by key. Neither is required.
func (s *Server) resolveSystemPrompt(ctx context.Context, explicit, key string) (string, *GatewayError) {
	if explicit != "" {
		return explicit, nil
	}
	if key == "" {
		return "", nil
	}
	if s.records == nil {
		return "", internalError("prompt_key given but no prompt store is configured", nil)
	}
	p, err := s.records.GetPrompt(ctx, key)
	if err != nil {
		return "", storeError(err)
	}
	return p.Content, nil
}

// ---------------------------------------------------------------------------
// Prompt-chat routes: raw text relay
// ---------------------------------------------------------------------------

// handlePromptChat handles POST /api/chat/prompt-chat and
// POST /api/{provider}/prompt-chat. Unlike the hub routes the upstream is
// opened before anything is written, so an upstream refusal still reaches
// the caller as a JSON error with the provider's detail.
func (s *Server) handlePromptChat(w http.ResponseWriter, r *http.Request) {
	var req promptChatRequest
	if gerr := decodeBody(w, r, &req); gerr != nil {
		s.writeError(w, r, gerr)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, r, invalidRequest("message must not be empty"))
		return
	}

	kind := router.Select(req.Model, req.ModelVersion)
	if name := chi.URLParam(r, "provider"); name != "" {
		forced, err := provider.ParseKind(name)
		if err != nil {
			s.writeError(w, r, notFound(err.Error()))
			return
		}
		kind = forced
	}

	p, err := s.registry.Get(kind)
	if err != nil {
		s.writeError(w, r, internalError(err.Error(), err))
		return
	}

	ctx := r.Context()
	log := s.logger.With("req_id", logID(r, req.InputTitle), "provider", kind, "route", routePromptChat)
	s.metrics.Request(routePromptChat, string(kind))

	chunks, err := p.ChatCompletionStream(ctx, &provider.StreamRequest{
		Text:         req.Message,
		History:      req.History,
		SystemPrompt: req.Prompt,
		Model:        router.ModelFor(kind, req.ModelVersion),
	})
	if err != nil {
		s.metrics.UpstreamError(string(kind))
		s.writeError(w, r, upstreamFailure(err))
		return
	}

	start := time.Now()
	n, err := stream.WriteRaw(w, chunks)
	s.finishStream(w, r, log, kind, start, n, err)
}

// logID names a prompt-chat request in logs: the caller's
// title when given, else the id chi's RequestID middleware assigned.
func logID(r *http.Request, title string) string {
	if title = strings.TrimSpace(title); title != "" {
		return title
	}
	return chiRequestID(r)
}

// ---------------------------------------------------------------------------
// Stream termination
// ---------------------------------------------------------------------------

// finishStream records the outcome of a stream. On a mid-stream failure it
// panics with http.ErrAbortHandler: net/http then closes the connection
// without the terminating chunk, so the caller sees an unexpected EOF
// rather than a response that merely looks short.
func (s *Server) finishStream(w http.ResponseWriter, r *http.Request, log *slog.Logger, kind provider.Kind, start time.Time, n int, err error) {
	s.metrics.Deltas(string(kind), n)
	s.metrics.StreamDone(string(kind), start)

	if errors.Is(err, stream.ErrFlushUnsupported) {
		s.writeError(w, r, internalError("streaming is not supported by this connection", err))
		return
	}

	// A disconnect closes the adapter's channel without an error chunk, so
	// err may be nil here too.
	if r.Context().Err() != nil {
		log.InfoContext(r.Context(), "caller went away", "deltas", n)
		return
	}

	if err == nil {
		log.InfoContext(r.Context(), "stream finished", "deltas", n, "duration", time.Since(start))
		return
	}

	s.metrics.UpstreamError(string(kind))
	s.metrics.Abort(string(kind))
	log.WarnContext(r.Context(), "stream aborted", "deltas", n, "error", err)
	panic(http.ErrAbortHandler)
}
