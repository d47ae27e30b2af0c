// Package dispatch binds incoming inference requests to a delivery path:
// an instant push to a connected worker when possible, otherwise the
// per-model polling queue.
package dispatch

import (
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/mtrbls/llmhive/internal/ledger"
	"github.com/mtrbls/llmhive/internal/push"
	"github.com/mtrbls/llmhive/internal/queue"
	"github.com/mtrbls/llmhive/internal/registry"
)

// ErrNoCapableNode indicates no registered worker advertises the requested
// model.
var ErrNoCapableNode = errors.New("no node available with model")

// Dispatcher routes fresh jobs. Exactly one delivery path is taken per job.
type Dispatcher struct {
	registry *registry.Registry
	queue    *queue.Queue
	push     *push.Table
	ledger   *ledger.Store
}

// New creates a dispatcher over the given components.
func New(reg *registry.Registry, q *queue.Queue, table *push.Table, store *ledger.Store) *Dispatcher {
	return &Dispatcher{registry: reg, queue: q, push: table, ledger: store}
}

// Dispatch creates a job for the request and delivers it. The ledger row and
// the runtime entry are created before delivery is attempted; if no capable
// node exists, neither is created and ErrNoCapableNode is returned.
func (d *Dispatcher) Dispatch(model, prompt string) (queue.Job, error) {
	if _, ok := d.registry.Pick(model); !ok {
		return queue.Job{}, fmt.Errorf("%w: %s", ErrNoCapableNode, model)
	}

	job := queue.Job{
		JobID:  "job-" + uuid.New().String()[:8],
		Model:  model,
		Prompt: prompt,
	}

	if err := d.ledger.CreateJob(job.JobID, job.Model); err != nil {
		return queue.Job{}, fmt.Errorf("create ledger row: %w", err)
	}
	d.queue.Add(job)

	// Push path prefers currently-connected workers over the round-robin
	// pick above; the connected subset has its own cursor.
	candidates := d.registry.NodesFor(model)
	if nodeID, ok := d.push.PushJob(candidates, job); ok {
		d.queue.MarkInProgress(job.JobID)
		if err := d.ledger.MarkInProgress(job.JobID); err != nil {
			log.Printf("[Dispatch] ledger update for %s failed: %v", job.JobID, err)
		}
		log.Printf("[Dispatch] job %s pushed to node %s", job.JobID, nodeID)
		return job, nil
	}

	d.queue.Enqueue(job.JobID)
	log.Printf("[Dispatch] job %s queued for model %s (no push channel available)", job.JobID, model)
	return job, nil
}
