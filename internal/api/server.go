// Package api implements the HTTP API: streaming chat over NDJSON,
// the operational event feed over WebSocket, and introspection
// endpoints for routing, history and usage.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mingmingshen/neomind/internal/buildinfo"
	"github.com/mingmingshen/neomind/internal/contextwin"
	"github.com/mingmingshen/neomind/internal/events"
	"github.com/mingmingshen/neomind/internal/memory"
	"github.com/mingmingshen/neomind/internal/router"
	"github.com/mingmingshen/neomind/internal/stream"
	"github.com/mingmingshen/neomind/internal/usage"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": msg}, logger)
}

// Config wires the server's collaborators. Memory, Usage, Bus and
// DeviceSummary may be nil.
type Config struct {
	Address string
	Port    int

	Engine    *stream.Engine
	Router    *router.Router
	Assembler *contextwin.Assembler
	Memory    *memory.Store
	Usage     *usage.Store
	Bus       *events.Bus

	ContextWindow int
	MaxChainDepth int
	// DeviceSummary supplies the device inventory for the system
	// prompt, one device per line.
	DeviceSummary func() string

	Logger *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	cfg    Config
	logger *slog.Logger
	server *http.Server

	convMu    sync.Mutex
	convLocks map[string]*sync.Mutex
}

// NewServer creates the API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 8192
	}
	return &Server{cfg: cfg, logger: logger, convLocks: map[string]*sync.Mutex{}}
}

// lockConversation returns the mutex serializing turns on one
// conversation. Concurrent turns on the same conversation would
// interleave history loads and persisted messages.
func (s *Server) lockConversation(id string) *sync.Mutex {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	mu, ok := s.convLocks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.convLocks[id] = mu
	}
	return mu
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /ws/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	mux.HandleFunc("GET /api/router/stats", s.handleRouterStats)
	mux.HandleFunc("GET /api/router/audit", s.handleRouterAudit)
	mux.HandleFunc("GET /api/router/explain/{requestId}", s.handleRouterExplain)

	mux.HandleFunc("GET /api/conversations/{id}", s.handleConversation)
	mux.HandleFunc("GET /api/conversations/{id}/tools", s.handleConversationTools)
	mux.HandleFunc("GET /api/usage/summary", s.handleUsageSummary)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. Blocks until the listener fails
// or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses; contexts bound request lifetime
	}

	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.cfg.Port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
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
		"name":    "NeoMind",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleRouterStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.cfg.Router.GetStats(), s.logger)
}

func (s *Server) handleRouterAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.cfg.Router.AuditLog(limit), s.logger)
}

func (s *Server) handleRouterExplain(w http.ResponseWriter, r *http.Request) {
	d := s.cfg.Router.Explain(r.PathValue("requestId"))
	if d == nil {
		writeError(w, http.StatusNotFound, "decision not found", s.logger)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, d, s.logger)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Memory == nil {
		writeError(w, http.StatusNotImplemented, "memory store not configured", s.logger)
		return
	}
	msgs, err := s.cfg.Memory.Messages(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"messages": msgs, "count": len(msgs)}, s.logger)
}

func (s *Server) handleConversationTools(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Memory == nil {
		writeError(w, http.StatusNotImplemented, "memory store not configured", s.logger)
		return
	}
	calls, err := s.cfg.Memory.ToolCalls(r.PathValue("id"), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"tool_calls": calls, "count": len(calls)}, s.logger)
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Usage == nil {
		writeError(w, http.StatusNotImplemented, "usage store not configured", s.logger)
		return
	}
	// Records are stamped at second precision and the window end is
	// exclusive; pad it so a turn recorded this second is counted.
	end := time.Now().UTC().Add(time.Second)
	start := end.AddDate(0, 0, -30)

	total, err := s.cfg.Usage.Summary(start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	byModel, err := s.cfg.Usage.SummaryByModel(start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	byDay, err := s.cfg.Usage.SummaryByDay(start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"total":    total,
		"by_model": byModel,
		"by_day":   byDay,
	}, s.logger)
}
