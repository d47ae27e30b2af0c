// Package operator implements the coordinator's HTTP surface: worker
// registration and streams, the inference relay, job ingress, and the
// accounting queries.
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mtrbls/llmhive/internal/dispatch"
	"github.com/mtrbls/llmhive/internal/ledger"
	"github.com/mtrbls/llmhive/internal/push"
	"github.com/mtrbls/llmhive/internal/queue"
	"github.com/mtrbls/llmhive/internal/registry"
)

// Config holds configuration for the operator server.
type Config struct {
	// Port to listen on (default: 8000).
	Port int

	// PricePerToken is used to derive payment amounts (default: 0.0001).
	PricePerToken float64

	// MaxJobTimeout bounds any client-visible wait on the relay
	// (default: 300s).
	MaxJobTimeout time.Duration

	// StreamCheckInterval is the relay drain tick (default: 100ms).
	StreamCheckInterval time.Duration

	// HeartbeatInterval is the idle heartbeat period on worker streams
	// (default: 1s).
	HeartbeatInterval time.Duration

	// RateLimitRPS and RateLimitBurst throttle /inference per client IP
	// (defaults: 5 rps, burst 10).
	RateLimitRPS   float64
	RateLimitBurst int

	// ReadTimeout is the max time to read a request (default: 30s).
	ReadTimeout time.Duration
}

// Server is the operator HTTP server.
type Server struct {
	config     Config
	registry   *registry.Registry
	queue      *queue.Queue
	push       *push.Table
	ledger     *ledger.Store
	dispatcher *dispatch.Dispatcher
	limiter    *RateLimiter
	mux        *http.ServeMux
	httpServer *http.Server
}

// NewServer creates the operator server over the given components.
func NewServer(cfg Config, reg *registry.Registry, q *queue.Queue, table *push.Table, store *ledger.Store, d *dispatch.Dispatcher) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.PricePerToken == 0 {
		cfg.PricePerToken = 0.0001
	}
	if cfg.MaxJobTimeout == 0 {
		cfg.MaxJobTimeout = 300 * time.Second
	}
	if cfg.StreamCheckInterval == 0 {
		cfg.StreamCheckInterval = 100 * time.Millisecond
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = time.Second
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 5
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 10
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}

	s := &Server{
		config:     cfg,
		registry:   reg,
		queue:      q,
		push:       table,
		ledger:     store,
		dispatcher: d,
		limiter:    NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		mux:        http.NewServeMux(),
	}

	s.mux.HandleFunc("/register", s.handleRegister)
	s.mux.HandleFunc("/stream", s.handleStream)
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/poll", s.handlePoll)
	s.mux.HandleFunc("/jobs/", s.handleJobs)
	s.mux.HandleFunc("/inference", s.handleInference)
	s.mux.HandleFunc("/payment-confirmed", s.handlePaymentConfirmed)
	s.mux.HandleFunc("/nodes", s.handleNodes)
	s.mux.HandleFunc("/models", s.handleModels)
	s.mux.HandleFunc("/health", s.handleHealth)

	return s
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.loggingMiddleware(s.mux))
}

// Start begins listening. Blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", s.config.Port),
		Handler:     s.Handler(),
		ReadTimeout: s.config.ReadTimeout,
		// No WriteTimeout: the relay and worker streams are long-lived.
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Port returns the port the server is configured to listen on.
func (s *Server) Port() int {
	return s.config.Port
}

// registrationRequest is the body of POST /register.
type registrationRequest struct {
	NodeID        string   `json:"node_id"`
	URL           string   `json:"url"`
	Models        []string `json:"models"`
	PayoutAddress string   `json:"payout_address,omitempty"`
}

// handleRegister upserts a worker node.
// POST /register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.NodeID == "" || req.URL == "" || len(req.Models) == 0 {
		writeError(w, http.StatusBadRequest, "node_id, url, and models are required")
		return
	}

	node := s.registry.Register(req.NodeID, req.URL, req.Models, req.PayoutAddress)
	log.Printf("[Operator] node %s registered with models %v", node.NodeID, node.Models)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "registered",
		"node_id": node.NodeID,
		"models":  node.Models,
	})
}

// handleNodes lists all registered nodes.
// GET /nodes
func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	nodes := s.registry.List()
	out := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		entry := map[string]any{
			"node_id":   node.NodeID,
			"url":       node.URL,
			"models":    node.Models,
			"last_seen": node.LastSeen.UTC().Format(time.RFC3339),
		}
		if node.PayoutAddress != "" {
			entry["payout_address"] = node.PayoutAddress
		}
		out = append(out, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{"nodes": out})
}

// handleModels returns the union of models advertised by live nodes.
// GET /models
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": s.registry.Models()})
}

// handleHealth is the operator's own health check.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

// splitModels parses the comma-separated models query parameter.
func splitModels(raw string) []string {
	var models []string
	for _, m := range strings.Split(raw, ",") {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	return models
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}
