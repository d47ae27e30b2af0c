package operator

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mtrbls/llmhive/internal/push"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The public surface already allows any origin via CORS.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEvent is one frame on the websocket worker stream. It mirrors the SSE
// events: connected, heartbeat, job, payment_received.
type wsEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// handleWS is the websocket variant of the worker stream, for workers behind
// proxies that buffer server-sent events. Push semantics are identical to
// /stream.
// GET /ws?node_id=...&models=a,b
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	nodeID := r.URL.Query().Get("node_id")
	models := splitModels(r.URL.Query().Get("models"))
	if nodeID == "" || len(models) == 0 {
		writeError(w, http.StatusBadRequest, "node_id and models are required")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		return
	}
	defer ws.Close()

	s.registry.Heartbeat(nodeID)
	conn := s.push.Attach(nodeID)
	defer conn.Close()
	log.Printf("[Operator] node %s connected via websocket with models %v", nodeID, models)

	// Drain reads so close frames are processed; workers never send data.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := ws.WriteJSON(wsEvent{Event: "connected", Data: map[string]any{
		"status":  "connected",
		"node_id": nodeID,
	}}); err != nil {
		return
	}

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-closed:
			log.Printf("[Operator] node %s websocket closed", nodeID)
			return

		case ev := <-conn.C:
			if err := s.writeWSEvent(ws, ev); err != nil {
				log.Printf("[Operator] node %s websocket send failed: %v", nodeID, err)
				return
			}

		case <-ticker.C:
			s.registry.Heartbeat(nodeID)
			if err := ws.WriteJSON(wsEvent{Event: "heartbeat", Data: map[string]any{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			}}); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeWSEvent(ws *websocket.Conn, ev push.Event) error {
	switch ev.Type {
	case push.EventJob:
		return ws.WriteJSON(wsEvent{Event: "job", Data: ev.Job})
	case push.EventPaymentReceived:
		return ws.WriteJSON(wsEvent{Event: "payment_received", Data: map[string]any{
			"type":             "payment_received",
			"job_id":           ev.Payment.JobID,
			"amount":           ev.Payment.Amount,
			"transaction_hash": ev.Payment.TransactionHash,
		}})
	}
	return nil
}
