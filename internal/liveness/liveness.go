// Package liveness keeps registry last-seen timestamps fresh and evicts
// workers that have gone silent.
//
// A node with an open push channel is considered live without probing; other
// nodes get an HTTP GET to {url}/health with a short timeout. Probe failures
// never mutate state — workers behind NAT that only speak over their stream
// are expected to fail HTTP checks.
package liveness

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mtrbls/llmhive/internal/registry"
)

// ConnChecker reports whether a node currently holds an open push channel.
type ConnChecker interface {
	Connected(nodeID string) bool
}

// Config holds configuration for the liveness loop.
type Config struct {
	// Interval between scans (default: 30s). Nodes silent for twice this
	// long are pruned.
	Interval time.Duration

	// ProbeTimeout is the HTTP health probe timeout (default: 5s).
	ProbeTimeout time.Duration
}

// Loop is the background liveness task.
type Loop struct {
	registry   *registry.Registry
	conns      ConnChecker
	interval   time.Duration
	httpClient *http.Client
}

// New creates a liveness loop over the registry and push table.
func New(cfg Config, reg *registry.Registry, conns ConnChecker) *Loop {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &Loop{
		registry:   reg,
		conns:      conns,
		interval:   cfg.Interval,
		httpClient: &http.Client{Timeout: cfg.ProbeTimeout},
	}
}

// Interval returns the configured scan interval.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Start runs the loop until the context is cancelled.
func (l *Loop) Start(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.CheckOnce(ctx)
		}
	}
}

// CheckOnce performs a single scan: refresh stream-connected nodes, probe
// the rest, then prune anything silent for 2x the interval.
func (l *Loop) CheckOnce(ctx context.Context) {
	for _, node := range l.registry.List() {
		if l.conns.Connected(node.NodeID) {
			l.registry.Heartbeat(node.NodeID)
			continue
		}
		if l.probe(ctx, node.URL) {
			l.registry.Heartbeat(node.NodeID)
		}
	}

	for _, nodeID := range l.registry.Prune(2 * l.interval) {
		log.Printf("[Liveness] pruned stale node: %s", nodeID)
	}
}

// probe issues the HTTP health check. Any failure is treated as silence.
func (l *Loop) probe(ctx context.Context, baseURL string) bool {
	url := strings.TrimSuffix(baseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
