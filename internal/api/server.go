// Package api implements the HTTP and websocket API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/cors"

	"github.com/nugget/ponder/internal/buildinfo"
	"github.com/nugget/ponder/internal/connwatch"
	"github.com/nugget/ponder/internal/events"
	"github.com/nugget/ponder/internal/llm"
	"github.com/nugget/ponder/internal/tools"
	"github.com/nugget/ponder/internal/usage"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// UsageReader is the read side of the usage audit.
type UsageReader interface {
	Summary(ctx context.Context, start, end time.Time) (*usage.Summary, error)
	ToolStats(ctx context.Context, start, end time.Time) (map[string]*usage.ToolStat, error)
}

// StatusReporter reports the last known reachability of a dependency.
// *connwatch.Watcher satisfies it.
type StatusReporter interface {
	Status() connwatch.Status
}

// Server is the HTTP API server.
type Server struct {
	address     string
	port        int
	name        string
	sessions    *Sessions
	registry    *tools.Registry
	pinger      llm.Pinger
	watcher     StatusReporter
	usage       UsageReader
	bus         *events.Bus
	corsOrigins []string
	logger      *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	shutdown bool
}

// NewServer creates a new API server.
func NewServer(address string, port int, name string, sessions *Sessions, logger *slog.Logger) *Server {
	return &Server{
		address:  address,
		port:     port,
		name:     name,
		sessions: sessions,
		logger:   logger,
	}
}

// SetRegistry exposes the tool list at /v1/tools.
func (s *Server) SetRegistry(r *tools.Registry) {
	s.registry = r
}

// SetPinger makes /health probe the completion provider.
func (s *Server) SetPinger(p llm.Pinger) {
	s.pinger = p
}

// SetWatcher makes /health report the background provider probe
// instead of pinging on every request.
func (s *Server) SetWatcher(w StatusReporter) {
	s.watcher = w
}

// SetUsage enables /v1/usage.
func (s *Server) SetUsage(u UsageReader) {
	s.usage = u
}

// SetEventBus enables /v1/events and publishes session resets.
func (s *Server) SetEventBus(b *events.Bus) {
	s.bus = b
}

// SetCORSOrigins allows cross-origin requests from origins. "*" allows
// any origin.
func (s *Server) SetCORSOrigins(origins []string) {
	s.corsOrigins = origins
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("POST /v1/session/reset", s.handleSessionReset)
	mux.HandleFunc("GET /v1/session/history", s.handleSessionHistory)
	mux.HandleFunc("GET /v1/sessions", s.handleSessionList)

	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)

	mux.HandleFunc("GET /v1/ws", s.handleChatSocket)
	mux.HandleFunc("GET /v1/events", s.handleEventSocket)

	var h http.Handler = mux
	if len(s.corsOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
		}).Handler(h)
	}
	return s.withLogging(h)
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Runs include every provider call; websockets manage their own
		// deadlines.
		WriteTimeout: 10 * time.Minute,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.server = srv
	s.mu.Unlock()

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return srv.ListenAndServe()
}

// Shutdown gracefully stops the server. A Start that has not begun yet
// returns http.ErrServerClosed immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	srv := s.server
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"message": fmt.Sprintf("Welcome to %s. POST /v1/chat to talk to the agent.", s.name),
		"name":    s.name,
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":   "healthy",
		"sessions": s.sessions.Len(),
	}
	code := http.StatusOK

	switch {
	case s.watcher != nil:
		st := s.watcher.Status()
		status["provider"] = st
		if st.Checked && !st.Ready {
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	case s.pinger != nil:
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.Warn("provider health check failed", "error", err)
			status["status"] = "degraded"
			status["provider"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status["provider"] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, status, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	var list []tools.Info
	if s.registry != nil {
		list = s.registry.List()
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"count": len(list), "tools": list}, s.logger)
}

// handleUsage reports the usage audit for the trailing window given by
// ?hours= (default 24).
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage audit not configured")
		return
	}

	hours := 24
	if h := r.URL.Query().Get("hours"); h != "" {
		parsed, err := strconv.Atoi(h)
		if err != nil || parsed <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = parsed
	}
	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	summary, err := s.usage.Summary(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}
	stats, err := s.usage.ToolStats(r.Context(), start, end)
	if err != nil {
		s.logger.Error("tool stats failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"start":   start.UTC().Format(time.RFC3339),
		"end":     end.UTC().Format(time.RFC3339),
		"summary": summary,
		"tools":   stats,
	}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
