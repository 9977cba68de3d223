package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Klavis-AI/playwright-mcp/internal/jsonrpc"
)

// Server is the worker's loopback HTTP surface: the Streamable-HTTP and SSE
// MCP transports plus a health endpoint.
type Server struct {
	instanceID string
	bootID     string
	mcp        *MCPServer
	tracker    *sessionTracker
	logger     *slog.Logger

	httpServer *http.Server
	port       int
}

// NewServer creates the worker server around a browser engine. Session hooks
// mirror the transport's session lifecycle into the tracker, which backs the
// /health count and the unknown-session guard on /messages.
func NewServer(instanceID string, cfg MCPConfig, engine *Engine, logger *slog.Logger) *Server {
	s := &Server{
		instanceID: instanceID,
		bootID:     uuid.NewString(),
		tracker:    newSessionTracker(),
		logger:     logger,
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, session server.ClientSession) {
		s.tracker.Add(session.SessionID())
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		s.tracker.Remove(session.SessionID())
	})

	s.mcp = NewMCPServer(cfg, engine, hooks)
	return s
}

// Start binds the loopback listener (port 0 means OS-assigned) and serves in
// the background. Returns the bound port for the readiness handshake.
func (s *Server) Start(requestedPort int) (int, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", requestedPort))
	if err != nil {
		return 0, fmt.Errorf("bind worker listener: %w", err)
	}
	s.port = listener.Addr().(*net.TCPAddr).Port

	s.httpServer = &http.Server{
		Handler: s.handler(),
	}

	go func() {
		if serveErr := s.httpServer.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("Worker HTTP server error", "error", serveErr)
		}
	}()

	return s.port, nil
}

// Port returns the bound listener port. Valid after Start.
func (s *Server) Port() int {
	return s.port
}

// SessionCount returns the number of open MCP sessions.
func (s *Server) SessionCount() int {
	return s.tracker.Count()
}

// Shutdown closes the listener and every open connection, including SSE
// streams, which never go idle and would otherwise block a graceful drain.
func (s *Server) Shutdown() {
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
}

func (s *Server) handler() http.Handler {
	// Stateless Streamable-HTTP: one MCP request per POST, no session
	// resumption across calls.
	streamable := server.NewStreamableHTTPServer(s.mcp.Server(),
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
	)

	// No base URL: the endpoint event must carry a relative /messages path.
	// Clients reach this worker only through the router's public origin, so
	// an absolute URL would leak the private loopback port and send messages
	// around the proxy.
	sse := server.NewSSEServer(s.mcp.Server(),
		server.WithSSEEndpoint("/sse"),
		server.WithMessageEndpoint("/messages"),
	)

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Method(http.MethodPost, "/mcp", streamable)
	r.Get("/mcp", s.handleMethodNotAllowed)
	r.Delete("/mcp", s.handleMethodNotAllowed)

	r.Method(http.MethodGet, "/sse", sse.SSEHandler())
	r.Method(http.MethodPost, "/messages", s.guardSession(sse.MessageHandler()))

	r.Get("/health", s.handleHealth)

	return r
}

// guardSession answers /messages for already-closed sessions with a plain
// 404. Clients racing their own disconnect hit this; it is expected, not a
// protocol error.
func (s *Server) guardSession(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("sessionId")
		if sessionID == "" || !s.tracker.Has(sessionID) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "session not found"})
			return
		}
		next.ServeHTTP(w, r)
	}
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	jsonrpc.WriteError(w, http.StatusMethodNotAllowed, jsonrpc.CodeMethodNotAllowed, "method not allowed")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":      "ok",
		"instance_id": s.instanceID,
		"boot_id":     s.bootID,
		"sessions":    s.SessionCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode health response", "error", err)
	}
}
