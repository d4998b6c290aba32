package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taskproof/internal/store"
	"taskproof/internal/workflow"
)

// Server holds the HTTP server state.
type Server struct {
	httpServer    *http.Server
	router        *chi.Mux
	engine        *workflow.Engine
	store         *store.Store
	mcpHandler    http.Handler
	logger        *slog.Logger
	location      *time.Location
	authToken     string
	maxImageBytes int
	now           func() time.Time
}

// Option customizes the server.
type Option func(*Server)

// WithMCPHandler mounts an MCP streamable HTTP handler at /mcp.
func WithMCPHandler(h http.Handler) Option {
	return func(s *Server) {
		s.mcpHandler = h
	}
}

// WithAuthToken requires a bearer token on the API and MCP routes.
func WithAuthToken(token string) Option {
	return func(s *Server) {
		s.authToken = token
	}
}

// WithLocation sets the zone used for timestamps in health output.
func WithLocation(loc *time.Location) Option {
	return func(s *Server) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithMaxImageBytes caps the accepted upload size.
func WithMaxImageBytes(limit int) Option {
	return func(s *Server) {
		if limit > 0 {
			s.maxImageBytes = limit
		}
	}
}

// NewServer constructs the HTTP API server.
func NewServer(addr string, engine *workflow.Engine, st *store.Store, logger *slog.Logger, opts ...Option) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:        router,
		engine:        engine,
		store:         st,
		logger:        logger,
		location:      time.Local,
		maxImageBytes: workflow.DefaultMaxImageBytes,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Verification waits on the oracle; leave writes unbounded.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Get("/health", s.handleHealth)

	if s.mcpHandler != nil {
		var mcpHandler http.Handler = s.mcpHandler
		if s.authToken != "" {
			mcpHandler = AuthMiddleware(s.authToken)(mcpHandler)
		}
		s.router.Handle("/mcp", mcpHandler)
	}

	s.router.Route("/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Get("/status", s.handleStatus)
		r.Post("/verify", s.handleVerifyForm)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)

			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Delete("/", s.handleDeleteTask)
				r.Post("/verify", s.handleVerifyTask)
				r.Get("/attempts", s.handleListAttempts)
			})
		})

		r.Get("/attempts/{attemptID}/image", s.handleAttemptImage)
	})
}
