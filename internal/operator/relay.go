package operator

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/mtrbls/llmhive/internal/dispatch"
)

// inferenceRequest is the body of POST /inference.
type inferenceRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// handleInference dispatches a job and relays its output stream back to the
// requester as newline-delimited JSON. The response carries the job ID in
// the X-Job-ID header before the first chunk.
// POST /inference
func (s *Server) handleInference(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !s.limiter.Allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, please try again later")
		return
	}

	var req inferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" || req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "model and prompt are required")
		return
	}

	job, err := s.dispatcher.Dispatch(req.Model, req.Prompt)
	if err != nil {
		if errors.Is(err, dispatch.ErrNoCapableNode) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Printf("[Operator] dispatch failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to dispatch job")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Job-ID", job.JobID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.relay(w, flusher, r, job.JobID)
}

// relay drains the job's chunk buffer to the response until the job turns
// terminal, the deadline passes, or the requester hangs up. Chunks are
// emitted verbatim in append order.
func (s *Server) relay(w http.ResponseWriter, flusher http.Flusher, r *http.Request, jobID string) {
	deadline := time.Now().Add(s.config.MaxJobTimeout)
	ticker := time.NewTicker(s.config.StreamCheckInterval)
	defer ticker.Stop()

	cursor := 0
	for {
		chunks, next, terminal := s.queue.DrainSince(jobID, cursor)
		cursor = next
		for _, chunk := range chunks {
			if _, err := w.Write(chunk); err != nil {
				return
			}
		}
		if len(chunks) > 0 {
			flusher.Flush()
		}

		if terminal {
			return
		}
		if time.Now().After(deadline) {
			// The job itself is not cancelled; a late done from the
			// worker is still accepted and settles the ledger.
			w.Write([]byte(`{"error":"Job timeout","done":true}` + "\n"))
			flusher.Flush()
			log.Printf("[Operator] relay for job %s timed out", jobID)
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
