package operator

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/mtrbls/llmhive/internal/push"
)

// handleStream is the worker-side event stream: the worker identifies itself
// with node_id and its model list, and the operator pushes jobs and payment
// notices over server-sent events. A heartbeat event is emitted after every
// ~1s of idleness and doubles as the node's liveness refresh.
// GET /stream?node_id=...&models=a,b
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	nodeID := r.URL.Query().Get("node_id")
	models := splitModels(r.URL.Query().Get("models"))
	if nodeID == "" || len(models) == 0 {
		writeError(w, http.StatusBadRequest, "node_id and models are required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	s.registry.Heartbeat(nodeID)
	conn := s.push.Attach(nodeID)
	defer conn.Close()
	log.Printf("[Operator] node %s connected via stream with models %v", nodeID, models)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, flusher, "connected", map[string]any{
		"status":  "connected",
		"node_id": nodeID,
	}); err != nil {
		return
	}

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Printf("[Operator] node %s stream closed", nodeID)
			return

		case ev := <-conn.C:
			if err := s.writeStreamEvent(w, flusher, ev); err != nil {
				log.Printf("[Operator] node %s stream send failed: %v", nodeID, err)
				return
			}

		case <-ticker.C:
			// Idle: refresh liveness and keep the transport warm.
			s.registry.Heartbeat(nodeID)
			if err := writeSSE(w, flusher, "heartbeat", map[string]any{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}
	}
}

// writeStreamEvent maps a push event onto the wire.
func (s *Server) writeStreamEvent(w http.ResponseWriter, flusher http.Flusher, ev push.Event) error {
	switch ev.Type {
	case push.EventJob:
		return writeSSE(w, flusher, "job", ev.Job)
	case push.EventPaymentReceived:
		return writeSSE(w, flusher, "payment_received", map[string]any{
			"type":             "payment_received",
			"job_id":           ev.Payment.JobID,
			"amount":           ev.Payment.Amount,
			"transaction_hash": ev.Payment.TransactionHash,
		})
	}
	return nil
}

// writeSSE emits one server-sent event and flushes it.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// handlePoll is the legacy pull path for workers that cannot hold a
// long-lived stream. Returns the next queued job for the advertised models,
// or 204 when there is nothing to do.
// GET /poll?node_id=...&models=a,b
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	nodeID := r.URL.Query().Get("node_id")
	models := splitModels(r.URL.Query().Get("models"))
	if nodeID == "" || len(models) == 0 {
		writeError(w, http.StatusBadRequest, "node_id and models are required")
		return
	}

	s.registry.Heartbeat(nodeID)

	job, ok := s.queue.Take(models)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	log.Printf("[Operator] job %s taken by node %s via poll", job.JobID, nodeID)
	writeJSON(w, http.StatusOK, job)
}
