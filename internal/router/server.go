package router

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Klavis-AI/playwright-mcp/internal/jsonrpc"
)

// InstanceHeader selects the worker a request is routed to. Requests without
// it collapse onto the default worker.
const InstanceHeader = "x-instance-id"

// Config holds the identity and settings reported by the diagnostics endpoint.
type Config struct {
	Name        string
	Version     string
	IdleTimeout time.Duration
	Headless    bool
}

// Server is the router's public HTTP surface.
type Server struct {
	registry *Registry
	cfg      Config
	logger   *slog.Logger
}

// NewServer creates the public server in front of the registry.
func NewServer(registry *Registry, cfg Config, logger *slog.Logger) *Server {
	return &Server{
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
}

// Handler builds the public route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", s.handleStatus)

	// Streamable-HTTP transport. GET and DELETE are rejected here, before any
	// routing, because no worker's transport supports them.
	r.Post("/mcp", s.handleProxy)
	r.Get("/mcp", s.handleMethodNotAllowed)
	r.Delete("/mcp", s.handleMethodNotAllowed)

	// SSE transport. Session ids live in the worker; the router forwards by
	// instance id plus the raw query string.
	r.Get("/sse", s.handleProxy)
	r.Post("/messages", s.handleProxy)

	return r
}

// handleProxy resolves the worker for the request's instance id and streams
// the request through to it.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	instanceID := r.Header.Get(InstanceHeader)

	rec, err := s.registry.Resolve(r.Context(), instanceID)
	if err != nil {
		s.logger.Error("Failed to resolve worker", "instance_id", instanceID, "error", err)
		jsonrpc.WriteError(w, http.StatusInternalServerError, jsonrpc.CodeInternalError, "failed to start worker")
		return
	}

	proxy := newWorkerProxy(rec.Port(), s.logger)
	proxy.ServeHTTP(w, r)
	s.registry.Touch(rec)
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	jsonrpc.WriteError(w, http.StatusMethodNotAllowed, jsonrpc.CodeMethodNotAllowed, "method not allowed")
}

// statusResponse is the diagnostics document served at /.
type statusResponse struct {
	Status    string       `json:"status"`
	Name      string       `json:"name"`
	Version   string       `json:"version"`
	Timestamp string       `json:"timestamp"`
	Workers   []WorkerInfo `json:"workers"`
	Config    statusConfig `json:"config"`
}

type statusConfig struct {
	IdleTimeoutMs int64 `json:"idle_timeout_ms"`
	Headless      bool  `json:"headless"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:    "ok",
		Name:      s.cfg.Name,
		Version:   s.cfg.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Workers:   s.registry.Snapshot(),
		Config: statusConfig{
			IdleTimeoutMs: s.cfg.IdleTimeout.Milliseconds(),
			Headless:      s.cfg.Headless,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode status response", "error", err)
	}
}
