// Package client is the worker-side client for the operator API: register,
// poll for jobs, stream output chunks back, and report completion.
//
// Architecture:
//
//	Worker Node                            Operator
//	┌─────────────┐    POST /register     ┌─────────────┐
//	│   Client    │ ───────────────────▶  │  /register  │
//	│             │    GET  /poll         │  /poll      │
//	│             │    POST /jobs/:id/... │  /jobs/:id  │
//	└─────────────┘                       └─────────────┘
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mtrbls/llmhive/internal/queue"
)

// Client talks to one operator on behalf of one worker node.
type Client struct {
	baseURL    string
	nodeID     string
	httpClient *http.Client
}

// Config holds configuration for the operator client.
type Config struct {
	// BaseURL is the operator base URL (e.g., "http://localhost:8000")
	BaseURL string

	// NodeID identifies this worker to the operator
	NodeID string

	// Timeout is the HTTP request timeout (default: 10s)
	Timeout time.Duration
}

// New creates a new operator client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		nodeID:  cfg.NodeID,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Register announces this node and its models to the operator. Safe to call
// repeatedly; registration is an upsert.
func (c *Client) Register(ctx context.Context, nodeURL string, models []string, payoutAddress string) error {
	body := map[string]any{
		"node_id": c.nodeID,
		"url":     nodeURL,
		"models":  models,
	}
	if payoutAddress != "" {
		body["payout_address"] = payoutAddress
	}

	resp, err := c.postJSON(ctx, "/register", body)
	if err != nil {
		return fmt.Errorf("register with operator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("register with operator: %s", readError(resp))
	}
	return nil
}

// Poll asks the operator for the next queued job for the given models.
// Returns ok=false when there is nothing to do.
func (c *Client) Poll(ctx context.Context, models []string) (*queue.Job, bool, error) {
	query := url.Values{}
	query.Set("node_id", c.nodeID)
	query.Set("models", strings.Join(models, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/poll?"+query.Encode(), nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("poll operator: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, false, nil
	case http.StatusOK:
		var job queue.Job
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
			return nil, false, fmt.Errorf("decode job: %w", err)
		}
		return &job, true, nil
	default:
		return nil, false, fmt.Errorf("poll operator: %s", readError(resp))
	}
}

// SendChunk posts one output line for the job. The chunk is relayed to the
// requester verbatim, so it must carry its own trailing newline.
func (c *Client) SendChunk(ctx context.Context, jobID, chunk string) error {
	resp, err := c.postJSON(ctx, "/jobs/"+jobID+"/chunk", map[string]string{"chunk": chunk})
	if err != nil {
		return fmt.Errorf("send chunk for job %s: %w", jobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send chunk for job %s: %s", jobID, readError(resp))
	}
	return nil
}

// Done reports the job finished. A non-empty workerErr marks it failed.
func (c *Client) Done(ctx context.Context, jobID, workerErr string) error {
	path := "/jobs/" + jobID + "/done"
	if workerErr != "" {
		path += "?error=" + url.QueryEscape(workerErr)
	}

	resp, err := c.postJSON(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("report done for job %s: %w", jobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("report done for job %s: %s", jobID, readError(resp))
	}
	return nil
}

// Health checks whether the operator is reachable and healthy.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("operator health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("operator health check: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.httpClient.Do(req)
}

// readError extracts the operator's {"error": ...} message, falling back to
// the bare status code.
func readError(resp *http.Response) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Sprintf("%s (status %d)", body.Error, resp.StatusCode)
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}
