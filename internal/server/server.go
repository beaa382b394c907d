// Package server sets up the HTTP router, middleware, and request handlers.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/howard-nolan/aihub/internal/config"
	"github.com/howard-nolan/aihub/internal/logging"
	"github.com/howard-nolan/aihub/internal/metrics"
	"github.com/howard-nolan/aihub/internal/router"
	"github.com/howard-nolan/aihub/internal/store"
)

// Route labels used in logs and metrics.
const (
	routeAIHub      = "ai_hub"
	routeFormHub    = "ai_hub_form"
	routePromptChat = "prompt_chat"
)

// Records is the persistence the handlers need. *store.Store satisfies it.
type Records interface {
	Ping(ctx context.Context) error

	ListPrompts(ctx context.Context) ([]store.Prompt, error)
	GetPrompt(ctx context.Context, key string) (store.Prompt, error)
	CreatePrompt(ctx context.Context, p store.Prompt) (store.Prompt, error)
	UpdatePrompt(ctx context.Context, p store.Prompt) (store.Prompt, error)
	DeletePrompt(ctx context.Context, key string) error

	ListTemplates(ctx context.Context) ([]store.Template, error)
	GetTemplate(ctx context.Context, id string) (store.Template, error)
	CreateTemplate(ctx context.Context, t store.Template) (store.Template, error)

	ListRuns(ctx context.Context) ([]store.Run, error)
	GetRun(ctx context.Context, id string) (store.Run, error)
	CreateRun(ctx context.Context, r store.Run) (store.Run, error)
}

// Deps are the collaborators a Server is built from. Only Registry is
// required. A nil Records disables the CRUD routes and prompt_key lookups;
// a nil Metrics records nothing; a nil Logger discards logs.
type Deps struct {
	Registry *router.Registry
	Records  Records
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Server holds the HTTP router and all dependencies that handlers need,
// similar to attaching services to an Express app.
type Server struct {
	router   chi.Router
	cfg      *config.Config
	registry *router.Registry
	records  Records
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		cfg:      cfg,
		registry: deps.Registry,
		records:  deps.Records,
		metrics:  deps.Metrics,
		logger:   logger,
	}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route definitions.
func (s *Server) routes() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  logging.StdLogger(s.logger, slog.LevelInfo),
		NoColor: true,
	}))

	// Recoverer turns handler panics into a 500, except http.ErrAbortHandler
	// which it re-panics so net/http drops the connection. The streaming
	// handlers rely on that to abort a response that is already underway.
	r.Use(middleware.Recoverer)

	// --- Routes ---
	r.Get("/health", s.handleHealth)
	if s.cfg.Metrics.Enabled && s.metrics != nil {
		r.Method(http.MethodGet, s.cfg.Metrics.Path, s.metrics.Handler())
	}

	r.Post("/api/ai_hub/get_prompt_res_text", s.handleAIHub)
	r.Post("/api/ai_hub/get_form_res_text", s.handleFormHub)
	r.Post("/api/chat/prompt-chat", s.handlePromptChat)
	r.Post("/api/{provider}/prompt-chat", s.handlePromptChat)

	if s.records != nil {
		r.Route("/api/prompts", func(r chi.Router) {
			r.Get("/", s.handleListPrompts)
			r.Get("/{key}", s.handleGetPrompt)
			r.Post("/{key}", s.handleCreatePrompt)
			r.Put("/{key}", s.handleUpdatePrompt)
			r.Delete("/{key}", s.handleDeletePrompt)
		})
		r.Route("/api/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Get("/{id}", s.handleGetTemplate)
		})
		r.Route("/api/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Post("/", s.handleCreateRun)
			r.Get("/{id}", s.handleGetRun)
		})
	}

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface. Every incoming
// request flows through this method, and we just delegate to chi's router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
