// Package httpapi implements the Run API (spec §6): JSON+SSE endpoints
// over the Orchestrator Façade, in the chi-router texture the pack's
// goadesign-goa-ai and r3e-network-service_layer go.mod entries pull in
// for exactly this purpose.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/siteforge-ai/core/runtime/event"
	"github.com/siteforge-ai/core/runtime/orchestrator"
	"github.com/siteforge-ai/core/runtime/run"
	"github.com/siteforge-ai/core/runtime/telemetry"
)

// Config carries the env-driven toggles spec §6's configuration table
// names for the HTTP edge.
type Config struct {
	// RunAPIEnabled gates the entire /api/runs prefix; disabled returns 404.
	RunAPIEnabled bool

	// CORSAllowedOrigins lists allowed Origin values. A literal "*" combined
	// with AllowCredentials is force-downgraded to no-credentials, per spec.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	// SSEKeepalive is the idle comment-frame interval (default 15s).
	SSEKeepalive time.Duration
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{RunAPIEnabled: true, SSEKeepalive: 15 * time.Second}
}

// Server wires the Orchestrator Façade, Run Store, Event Store, and
// idempotency cache behind chi routes.
type Server struct {
	router *chi.Mux
	orch   *orchestrator.Orchestrator
	runs   run.Store
	events event.Store
	idem   *run.IdempotencyCache
	cfg    Config
	logger telemetry.Logger
}

// New builds a Server and registers all routes.
func New(orch *orchestrator.Orchestrator, runs run.Store, events event.Store, cfg Config, logger telemetry.Logger) *Server {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	s := &Server{
		router: chi.NewRouter(),
		orch:   orch,
		runs:   runs,
		events: events,
		idem:   run.NewIdempotencyCache(),
		cfg:    cfg,
		logger: logger,
	}
	s.routes()
	return s
}

// ServeHTTP lets Server be mounted directly as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.cors)

	s.router.Get("/healthz", s.handleHealthz)

	s.router.Route("/api/runs", func(r chi.Router) {
		r.Use(s.requireRunAPIEnabled)
		r.Post("/", s.handleCreateRun)
		r.Get("/{id}", s.handleGetRun)
		r.Post("/{id}/resume", s.handleResumeRun)
		r.Post("/{id}/cancel", s.handleCancelRun)
		r.Get("/{id}/events", s.handleRunEvents)
	})
}

func (s *Server) requireRunAPIEnabled(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.RunAPIEnabled {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.cfg.CORSAllowedOrigins))
	wildcard := false
	for _, o := range s.cfg.CORSAllowedOrigins {
		if o == "*" {
			wildcard = true
			continue
		}
		allowed[o] = true
	}
	allowCredentials := s.cfg.CORSAllowCredentials && !wildcard

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case wildcard:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		if allowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Idempotency-Key, Accept")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// background returns a context detached from the request lifecycle for work
// that must outlive a cancelled HTTP request (StreamResponses keeps driving
// the graph to a checkpoint even if the client disconnects mid-stream).
func background(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
