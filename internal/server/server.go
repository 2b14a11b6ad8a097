package server

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/claude/fitforge/internal/session"
	"github.com/go-chi/chi/v5"
)

// Options tunes the HTTP layer.
type Options struct {
	// RateLimit is the sustained number of mutating requests per second
	// allowed per user. Zero disables limiting.
	RateLimit float64
	RateBurst int
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	sessions *session.Manager
	log      *slog.Logger
	ts       WhoIsClient
	limit    func(http.Handler) http.Handler
	router   chi.Router
}

// New creates a new Server with all routes configured.
func New(sessions *session.Manager, opts Options, log *slog.Logger) *Server {
	s := &Server{
		sessions: sessions,
		log:      log,
		limit:    RateLimit(opts.RateLimit, opts.RateBurst),
		router:   chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetTailscale switches request identity from the dev user to the
// Tailscale peer behind each connection.
func (s *Server) SetTailscale(c WhoIsClient) {
	s.ts = c
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)

	s.router.Get("/healthz", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(s.identity)
		r.Get("/api/me", s.handleMe)
		r.Get("/api/policy", s.handlePolicy)

		// Both prefixes serve the same routes; /api/workouts is the older name.
		for _, prefix := range []string{"/api/workout-sessions", "/api/workouts"} {
			r.Route(prefix, s.sessionRoutes)
		}
	})
}

func (s *Server) sessionRoutes(r chi.Router) {
	r.Get("/", s.handleListSessions)
	r.Get("/active", s.handleActiveSession)
	r.Get("/conflict", s.handleCheckConflict)
	r.Get("/summary", s.handleSummary)
	r.Get("/{id}", s.handleGetSession)
	r.Get("/{id}/progress", s.handleProgress)

	r.Group(func(r chi.Router) {
		r.Use(s.limit)
		r.Post("/start", s.handleStart)
		r.Post("/{id}/exercises", s.handleAddExercise)
		r.Patch("/{id}/exercises/{exId}/sets/{setNo}", s.handleLogSet)
		r.Post("/{id}/next", s.handleNextExercise)
		r.Post("/{id}/previous", s.handlePreviousExercise)
		r.Post("/{id}/pause", s.handlePause)
		r.Post("/{id}/resume", s.handleResume)
		r.Post("/{id}/resolve", s.handleResolve)
		r.Post("/{id}/complete", s.handleComplete)
		r.Put("/{id}/abandon", s.handleAbandon)
		r.Delete("/{id}", s.handleCancel)
	})
}

// MountIdentified serves h at path behind the identity middleware, so
// UserIDFromRequest works inside it. The MCP endpoint is mounted this way.
func (s *Server) MountIdentified(path string, h http.Handler) {
	s.router.With(s.identity).Handle(path, h)
}

// SetFrontend mounts a SPA filesystem.
// Unmatched routes serve index.html for client-side routing.
func (s *Server) SetFrontend(webFS fs.FS) {
	fileServer := http.FileServerFS(webFS)

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		// Try to serve the exact file first
		f, err := webFS.Open(r.URL.Path[1:]) // strip leading /
		if err == nil {
			f.Close()
			fileServer.ServeHTTP(w, r)
			return
		}
		// Fallback to index.html for SPA routing
		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}
