package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/howard-nolan/aihub/internal/store"
)

// chiRequestID returns the id middleware.RequestID attached to r.
func chiRequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// ---------------------------------------------------------------------------
// Prompts
// ---------------------------------------------------------------------------

type promptBody struct {
	Content     string `json:"content"`
	Description string `json:"description"`
}

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := s.records.ListPrompts(r.Context())
	if err != nil {
		s.writeError(w, r, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": prompts, "total": len(prompts)})
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	p, err := s.records.GetPrompt(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, r, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	var body promptBody
	if gerr := decodeBody(w, r, &body); gerr != nil {
		s.writeError(w, r, gerr)
		return
	}
	p, err := s.records.CreatePrompt(r.Context(), store.Prompt{
		Key:         chi.URLParam(r, "key"),
		Content:     body.Content,
		Description: body.Description,
	})
	if err != nil {
		s.writeError(w, r, storeError(err))
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleUpdatePrompt(w http.ResponseWriter, r *http.Request) {
	var body promptBody
	if gerr := decodeBody(w, r, &body); gerr != nil {
		s.writeError(w, r, gerr)
		return
	}
	p, err := s.records.UpdatePrompt(r.Context(), store.Prompt{
		Key:         chi.URLParam(r, "key"),
		Content:     body.Content,
		Description: body.Description,
	})
	if err != nil {
		s.writeError(w, r, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePrompt(w http.ResponseWriter, r *http.Request) {
	if err := s.records.DeletePrompt(r.Context(), chi.URLParam(r, "key")); err != nil {
		s.writeError(w, r, storeError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.records.ListTemplates(r.Context())
	if err != nil {
		s.writeError(w, r, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.records.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var body store.Template
	if gerr := decodeBody(w, r, &body); gerr != nil {
		s.writeError(w, r, gerr)
		return
	}
	t, err := s.records.CreateTemplate(r.Context(), body)
	if err != nil {
		s.writeError(w, r, storeError(err))
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.records.ListRuns(r.Context())
	if err != nil {
		s.writeError(w, r, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.records.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var body store.Run
	if gerr := decodeBody(w, r, &body); gerr != nil {
		s.writeError(w, r, gerr)
		return
	}
	run, err := s.records.CreateRun(r.Context(), body)
	if err != nil {
		s.writeError(w, r, storeError(err))
		return
	}
	writeJSON(w, http.StatusCreated, run)
}
