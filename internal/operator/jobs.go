package operator

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mtrbls/llmhive/internal/ledger"
	"github.com/mtrbls/llmhive/internal/push"
)

// handleJobs routes /jobs/{id}, /jobs/{id}/chunk, and /jobs/{id}/done.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/jobs/")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		writeError(w, http.StatusBadRequest, "job id required")
		return
	}
	jobID := parts[0]

	if len(parts) == 1 {
		s.handleJobGet(w, r, jobID)
		return
	}

	switch parts[1] {
	case "chunk":
		s.handleChunk(w, r, jobID)
	case "done":
		s.handleDone(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// jobChunk is the body of POST /jobs/{id}/chunk.
type jobChunk struct {
	Chunk string `json:"chunk"`
}

// handleChunk appends one streamed output line to the job's buffer. Chunks
// for unknown or already-terminal jobs are dropped silently; the operator
// may have restarted and workers retry blindly.
// POST /jobs/{id}/chunk
func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body jobChunk
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.queue.AppendChunk(jobID, []byte(body.Chunk))
	writeJSON(w, http.StatusOK, map[string]any{"status": "received"})
}

// chunkPayload is the subset of the chunk wire format the done ingress
// scans for accounting. The relay itself never parses chunks.
type chunkPayload struct {
	Metadata    bool   `json:"metadata"`
	NodeID      string `json:"node_id"`
	TokenCounts *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"token_counts"`
}

// handleDone marks the job terminal and settles the ledger from the
// accumulated chunks: the metadata chunk identifies the worker (whose payout
// address is snapshotted now), and the terminal chunk carries token counts.
// POST /jobs/{id}/done?error=...
func (s *Server) handleDone(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	workerErr := r.URL.Query().Get("error")
	s.queue.Complete(jobID, workerErr)

	settlement := ledger.Settlement{Failed: workerErr != ""}
	for _, chunk := range s.queue.Chunks(jobID) {
		var payload chunkPayload
		if err := json.Unmarshal(bytes.TrimSpace(chunk), &payload); err != nil {
			continue
		}
		if tc := payload.TokenCounts; tc != nil {
			settlement.TokenCounts = &ledger.TokenCounts{
				PromptTokens:     tc.PromptTokens,
				CompletionTokens: tc.CompletionTokens,
				TotalTokens:      tc.TotalTokens,
			}
		}
		if payload.Metadata && payload.NodeID != "" {
			settlement.NodeID = payload.NodeID
			if node, ok := s.registry.Get(payload.NodeID); ok {
				settlement.PayoutAddress = node.PayoutAddress
			}
		}
	}

	if err := s.ledger.Settle(jobID, settlement); err != nil {
		log.Printf("[Operator] settle job %s failed: %v", jobID, err)
	} else {
		log.Printf("[Operator] job %s settled (failed=%v)", jobID, settlement.Failed)
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "done"})
}

// handleJobGet returns the ledger record plus the derived payment block.
// GET /jobs/{id}
func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rec, err := s.ledger.GetJob(jobID)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		log.Printf("[Operator] query job %s failed: %v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to query job")
		return
	}

	resp := map[string]any{
		"job_id":              rec.JobID,
		"status":              rec.Status,
		"model":               rec.Model,
		"node_id":             rec.NodeID,
		"node_payout_address": rec.NodePayoutAddress,
		"token_counts":        nil,
		"payment":             nil,
		"created_at":          rec.CreatedAt.UTC().Format(time.RFC3339),
		"completed_at":        nil,
	}
	if rec.CompletedAt != nil {
		resp["completed_at"] = rec.CompletedAt.UTC().Format(time.RFC3339)
	}
	if rec.TotalTokens != nil {
		counts := map[string]any{"total_tokens": *rec.TotalTokens}
		if rec.PromptTokens != nil {
			counts["prompt_tokens"] = *rec.PromptTokens
		}
		if rec.CompletionTokens != nil {
			counts["completion_tokens"] = *rec.CompletionTokens
		}
		resp["token_counts"] = counts

		// The payment block is derived, not stored; it needs both the
		// token total and a payout address.
		if rec.NodePayoutAddress != nil && *rec.NodePayoutAddress != "" {
			payment := map[string]any{
				"amount":            float64(*rec.TotalTokens) * s.config.PricePerToken,
				"recipient_address": *rec.NodePayoutAddress,
			}
			if rec.NodeID != nil {
				payment["recipient_node"] = *rec.NodeID
			}
			resp["payment"] = payment
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// paymentConfirmation is the body of POST /payment-confirmed.
type paymentConfirmation struct {
	JobID           string  `json:"job_id"`
	TransactionHash string  `json:"transaction_hash"`
	Amount          float64 `json:"amount"`
}

// handlePaymentConfirmed records a settlement transaction reported by the
// requester and forwards a payment_received notice to the serving worker's
// stream, best-effort.
// POST /payment-confirmed
func (s *Server) handlePaymentConfirmed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var conf paymentConfirmation
	if err := json.NewDecoder(r.Body).Decode(&conf); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if conf.JobID == "" || conf.TransactionHash == "" {
		writeError(w, http.StatusBadRequest, "job_id and transaction_hash are required")
		return
	}

	rec, err := s.ledger.GetJob(conf.JobID)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		log.Printf("[Operator] query job %s failed: %v", conf.JobID, err)
		writeError(w, http.StatusInternalServerError, "failed to query job")
		return
	}

	if err := s.ledger.ConfirmPayment(conf.JobID, conf.Amount, conf.TransactionHash); err != nil {
		log.Printf("[Operator] confirm payment for %s failed: %v", conf.JobID, err)
		writeError(w, http.StatusInternalServerError, "failed to record payment")
		return
	}
	log.Printf("[Operator] payment confirmed for job %s: %s", conf.JobID, conf.TransactionHash)

	if rec.NodeID != nil {
		notice := &push.PaymentNotice{
			JobID:           conf.JobID,
			Amount:          conf.Amount,
			TransactionHash: conf.TransactionHash,
		}
		if s.push.TryPush(*rec.NodeID, push.Event{Type: push.EventPaymentReceived, Payment: notice}) {
			log.Printf("[Operator] payment notice for job %s sent to node %s", conf.JobID, *rec.NodeID)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "payment_confirmed",
		"job_id": conf.JobID,
	})
}
