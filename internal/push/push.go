// Package push delivers jobs and payment notices to connected workers over
// per-node bounded channels.
//
// The table is keyed by node ID and lives alongside the registry without
// either owning the other: tearing down a channel never removes the registry
// entry, and pruning the registry never closes a channel. Delivery is
// best-effort; a full channel is the dispatcher's cue to fall back to the
// polling queue.
package push

import (
	"sync"

	"github.com/mtrbls/llmhive/internal/queue"
)

// Event types carried on a push channel.
const (
	EventJob             = "job"
	EventPaymentReceived = "payment_received"
)

// PaymentNotice informs a worker that a requester confirmed payment.
type PaymentNotice struct {
	JobID           string  `json:"job_id"`
	Amount          float64 `json:"amount"`
	TransactionHash string  `json:"transaction_hash"`
}

// Event is one message on a worker's push channel.
type Event struct {
	Type    string
	Job     *queue.Job
	Payment *PaymentNotice
}

// Conn is one worker's attachment to the push table. The owning stream
// handler receives from C and must call Close on disconnect.
type Conn struct {
	NodeID string
	C      <-chan Event

	table *Table
	ch    chan Event
}

// Close detaches the connection from the table. If the worker reconnected
// in the meantime, the replacement channel is left in place.
func (c *Conn) Close() {
	c.table.detach(c.NodeID, c.ch)
}

// Table holds the push channel for every currently-streaming worker.
type Table struct {
	mu       sync.Mutex
	channels map[string]chan Event
	rrIndex  map[string]int
	capacity int
}

// DefaultCapacity is the buffer size of each push channel.
const DefaultCapacity = 16

// NewTable creates an empty push table. capacity <= 0 uses DefaultCapacity.
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{
		channels: make(map[string]chan Event),
		rrIndex:  make(map[string]int),
		capacity: capacity,
	}
}

// Attach allocates a push channel for the node, replacing any existing one.
// The replaced channel is abandoned, not closed; its stream handler detaches
// it on its own disconnect.
func (t *Table) Attach(nodeID string) *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan Event, t.capacity)
	t.channels[nodeID] = ch
	return &Conn{NodeID: nodeID, C: ch, table: t, ch: ch}
}

func (t *Table) detach(nodeID string, ch chan Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.channels[nodeID] == ch {
		delete(t.channels, nodeID)
	}
}

// Connected reports whether the node currently has a push channel.
func (t *Table) Connected(nodeID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.channels[nodeID]
	return ok
}

// TryPush delivers an event to the node's channel without blocking. Returns
// false if the node is not connected or its channel is full.
func (t *Table) TryPush(nodeID string, ev Event) bool {
	t.mu.Lock()
	ch, ok := t.channels[nodeID]
	t.mu.Unlock()

	if !ok {
		return false
	}
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}

// PushJob hands a job to one of the candidate nodes, round-robin over the
// connected subset per model. Candidates that are not connected or whose
// channel is full are skipped. Returns the chosen node ID.
func (t *Table) PushJob(candidates []string, job queue.Job) (string, bool) {
	t.mu.Lock()

	connected := make([]string, 0, len(candidates))
	chans := make([]chan Event, 0, len(candidates))
	for _, nodeID := range candidates {
		if ch, ok := t.channels[nodeID]; ok {
			connected = append(connected, nodeID)
			chans = append(chans, ch)
		}
	}
	if len(connected) == 0 {
		t.mu.Unlock()
		return "", false
	}

	start := t.rrIndex[job.Model] % len(connected)
	for i := 0; i < len(connected); i++ {
		idx := (start + i) % len(connected)
		select {
		case chans[idx] <- Event{Type: EventJob, Job: &job}:
			t.rrIndex[job.Model] = (idx + 1) % len(connected)
			t.mu.Unlock()
			return connected[idx], true
		default:
		}
	}

	t.mu.Unlock()
	return "", false
}
