package http

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"asamblea/internal/app"
	"asamblea/internal/config"
	"asamblea/internal/transport/ws"
)

// Server represents the HTTP server
type Server struct {
	server   *http.Server
	hub      *app.SessionHub
	config   *config.Config
	gatherer prometheus.Gatherer
	validate *validator.Validate
	logger   *slog.Logger
}

// NewServer creates a new HTTP server. A nil gatherer serves the default
// Prometheus registry.
func NewServer(cfg *config.Config, hub *app.SessionHub, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		hub:      hub,
		config:   cfg,
		gatherer: gatherer,
		validate: validator.New(),
		logger:   logger,
	}

	// Set up routes
	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.server = &http.Server{
		Addr:         cfg.GetAddr(),
		Handler:      s.middleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler, middleware included
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// Session lifecycle
	mux.HandleFunc("POST /api/assemblies/{id}/session", s.handleEnter)
	mux.HandleFunc("DELETE /api/assemblies/{id}/session", s.handleCloseSession)
	mux.HandleFunc("POST /api/assemblies/{id}/exit", s.handleExit)

	// Questions
	mux.HandleFunc("GET /api/assemblies/{id}/questions", s.handleQuestions)
	mux.HandleFunc("POST /api/assemblies/{id}/reload", s.handleReload)
	mux.HandleFunc("POST /api/assemblies/{id}/questions/{qid}/activate", s.handleActivate)
	mux.HandleFunc("POST /api/assemblies/{id}/questions/{qid}/finalize", s.handleFinalize)
	mux.HandleFunc("POST /api/assemblies/{id}/questions/{qid}/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/assemblies/{id}/questions/{qid}/vote", s.handleVote)
	mux.HandleFunc("GET /api/assemblies/{id}/active-question", s.handleActiveQuestion)
	mux.HandleFunc("GET /api/assemblies/{id}/results", s.handleResults)

	// Assembly
	mux.HandleFunc("GET /api/assemblies/{id}/quorum", s.handleQuorum)
	mux.HandleFunc("POST /api/assemblies/{id}/status", s.handleStatus)

	// WebSocket
	wsHandler := ws.NewHandler(s.hub, s.logger)
	mux.Handle("GET /ws", wsHandler)
}

// middleware wraps the handler with logging and other middleware
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Add CORS headers
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// Scrapes are only logged in development
		if s.config.IsDevelopment() || r.URL.Path != "/metrics" {
			s.logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", time.Since(start),
			)
		}
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("server starting", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	return s.server.Shutdown(ctx)
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker for WebSocket support
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// Flush implements http.Flusher
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
