// Package web provides the HTTP server and handlers for submitting and
// inspecting ingestions.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/tableload/internal/config"
	"github.com/JonMunkholm/tableload/internal/core"
	"github.com/JonMunkholm/tableload/internal/web/middleware"
)

// Server is the HTTP front end for the ingestion engine.
type Server struct {
	cfg     *config.Config
	engine  *core.Engine
	profile core.ConnectionProfile
	limiter *core.Limiter
	history *core.History

	router      *chi.Mux
	server      *http.Server
	rateLimiter *middleware.RateLimiter
}

// NewServer creates a Server that loads into the database described by
// profile.
func NewServer(cfg *config.Config, engine *core.Engine, profile core.ConnectionProfile) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  engine,
		profile: profile,
		limiter: core.NewLimiter(cfg.Server.MaxConcurrent, cfg.Server.MaxWaitTime),
		history: core.NewHistory(cfg.Server.HistorySize),
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Server.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)

	s.router.Use(securityHeaders)

	if s.cfg.Server.RateLimit > 0 {
		s.rateLimiter = middleware.NewRateLimiter(s.cfg.Server.RateLimit)
		s.router.Use(s.rateLimiter.Handler)
	}
}

// setupRoutes configures all HTTP routes. Ingestion requests are exempt from
// the request timeout; they are bounded by INGEST_TIMEOUT instead.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.router.Group(func(r chi.Router) {
		s.useRequestTimeout(r)
		r.Use(chimw.Compress(5))
		r.Get("/", s.handleDashboard)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))

		r.Post("/ingestions", s.handleCreateIngestion)

		r.Group(func(r chi.Router) {
			s.useRequestTimeout(r)
			r.Get("/ingestions", s.handleListIngestions)
			r.Get("/ingestions/{runID}", s.handleGetIngestion)
			r.Post("/connection/check", s.handleCheckConnection)
			r.Get("/drivers", s.handleListDrivers)
			r.Get("/status", s.handleStatus)
		})
	})
}

func (s *Server) useRequestTimeout(r chi.Router) {
	if d := s.cfg.Server.RequestTimeout; d > 0 {
		r.Use(chimw.Timeout(d))
	}
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for running ingestions to
// finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.server == nil {
		return s.limiter.WaitForDrain(ctx)
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	return s.limiter.WaitForDrain(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
