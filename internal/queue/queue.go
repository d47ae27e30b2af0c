// Package queue holds inference jobs that have not yet been dispatched and
// buffers each job's streamed output until the relay drains it.
package queue

import (
	"sync"
	"time"
)

// Status is the runtime state of a job. Transitions are monotonic:
// pending -> in_progress -> {completed, failed}.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is the unit of work handed to a worker, either pushed over its stream
// or returned from a poll.
type Job struct {
	JobID  string `json:"job_id"`
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// jobState is the runtime record for one job. Chunks are append-only while
// terminal is false; once terminal flips the list is immutable.
type jobState struct {
	status    Status
	model     string
	prompt    string
	chunks    [][]byte
	terminal  bool
	err       string
	createdAt time.Time
}

// Queue is safe for concurrent use. The job table and the per-model FIFOs
// share one mutex; chunk snapshots are taken under the lock and emitted
// outside it.
type Queue struct {
	mu      sync.Mutex
	jobs    map[string]*jobState
	pending map[string][]string
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		jobs:    make(map[string]*jobState),
		pending: make(map[string][]string),
	}
}

// Add creates the runtime entry for a job with status pending. It does not
// place the job on any FIFO; the dispatcher decides the delivery path.
func (q *Queue) Add(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs[job.JobID] = &jobState{
		status:    StatusPending,
		model:     job.Model,
		prompt:    job.Prompt,
		createdAt: time.Now(),
	}
}

// Enqueue appends the job to its model's FIFO for later pickup by a polling
// worker. No-op for unknown jobs.
func (q *Queue) Enqueue(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	state, ok := q.jobs[jobID]
	if !ok {
		return
	}
	q.pending[state.model] = append(q.pending[state.model], jobID)
}

// MarkInProgress advances a pending job to in_progress. Used by the
// dispatcher after a successful push delivery.
func (q *Queue) MarkInProgress(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if state, ok := q.jobs[jobID]; ok && state.status == StatusPending {
		state.status = StatusInProgress
	}
}

// Take scans the given model list in order and pops the head of the first
// non-empty FIFO, atomically marking the job in_progress.
func (q *Queue) Take(models []string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, model := range models {
		fifo := q.pending[model]
		if len(fifo) == 0 {
			continue
		}
		jobID := fifo[0]
		q.pending[model] = fifo[1:]

		state, ok := q.jobs[jobID]
		if !ok {
			continue
		}
		state.status = StatusInProgress
		return Job{JobID: jobID, Model: state.model, Prompt: state.prompt}, true
	}
	return Job{}, false
}

// AppendChunk appends one output chunk to the job's buffer. No-op if the job
// is unknown or already terminal.
func (q *Queue) AppendChunk(jobID string, chunk []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	state, ok := q.jobs[jobID]
	if !ok || state.terminal {
		return
	}
	state.chunks = append(state.chunks, chunk)
}

// Complete marks the job terminal: failed if errMsg is non-empty, completed
// otherwise. Idempotent for jobs already terminal.
func (q *Queue) Complete(jobID, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	state, ok := q.jobs[jobID]
	if !ok || state.terminal {
		return
	}
	if errMsg != "" {
		state.status = StatusFailed
		state.err = errMsg
	} else {
		state.status = StatusCompleted
	}
	state.terminal = true
}

// DrainSince returns all chunks with index >= cursor, the new cursor, and
// whether the job is terminal, as one atomic snapshot. The returned slices
// alias the stored chunks, which are never mutated after append.
func (q *Queue) DrainSince(jobID string, cursor int) ([][]byte, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	state, ok := q.jobs[jobID]
	if !ok {
		return nil, cursor, true
	}
	if cursor > len(state.chunks) {
		cursor = len(state.chunks)
	}
	chunks := append([][]byte(nil), state.chunks[cursor:]...)
	return chunks, len(state.chunks), state.terminal
}

// Chunks returns a snapshot of all chunks appended so far.
func (q *Queue) Chunks(jobID string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	state, ok := q.jobs[jobID]
	if !ok {
		return nil
	}
	return append([][]byte(nil), state.chunks...)
}

// Status returns the job's current status.
func (q *Queue) Status(jobID string) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	state, ok := q.jobs[jobID]
	if !ok {
		return "", false
	}
	return state.status, true
}

// Error returns the worker-reported error for a failed job.
func (q *Queue) Error(jobID string) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if state, ok := q.jobs[jobID]; ok {
		return state.err
	}
	return ""
}
