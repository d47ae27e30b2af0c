// Package registry tracks live worker nodes and maps model names to the
// nodes that serve them.
//
// The registry is the authoritative in-memory membership list. Nodes enter
// by registering, stay alive through heartbeats (stream activity, polls, or
// HTTP health probes), and are evicted by Prune when silent for too long.
package registry

import (
	"sort"
	"sync"
	"time"
)

// Node is a registered worker and its advertised capabilities.
type Node struct {
	NodeID        string    `json:"node_id"`
	URL           string    `json:"url"`
	Models        []string  `json:"models"`
	PayoutAddress string    `json:"payout_address,omitempty"`
	LastSeen      time.Time `json:"last_seen"`
}

// Registry is safe for concurrent use. Membership, the per-model index, and
// the round-robin cursors all move under a single mutex so selection never
// skips or duplicates a node during concurrent registration.
type Registry struct {
	mu           sync.Mutex
	nodes        map[string]*Node
	modelToNodes map[string][]*Node
	rrIndex      map[string]int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		nodes:        make(map[string]*Node),
		modelToNodes: make(map[string][]*Node),
		rrIndex:      make(map[string]int),
	}
}

// Register upserts a node. Any prior record for the same node ID is replaced
// and its old model index entries removed first, so re-registration never
// leaves duplicates behind.
func (r *Registry) Register(nodeID, url string, models []string, payoutAddress string) Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.nodes[nodeID]; ok {
		for _, model := range old.Models {
			r.modelToNodes[model] = removeNode(r.modelToNodes[model], nodeID)
		}
	}

	node := &Node{
		NodeID:        nodeID,
		URL:           url,
		Models:        append([]string(nil), models...),
		PayoutAddress: payoutAddress,
		LastSeen:      time.Now(),
	}
	r.nodes[nodeID] = node

	for _, model := range node.Models {
		r.modelToNodes[model] = append(r.modelToNodes[model], node)
	}

	return *node
}

// Pick returns the next node serving model in round-robin order. With N
// nodes and no membership change, N consecutive picks visit each exactly
// once.
func (r *Registry) Pick(model string) (Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes := r.modelToNodes[model]
	if len(nodes) == 0 {
		return Node{}, false
	}

	index := r.rrIndex[model] % len(nodes)
	r.rrIndex[model] = (index + 1) % len(nodes)

	return *nodes[index], true
}

// Get returns a snapshot of the node with the given ID.
func (r *Registry) Get(nodeID string) (Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		return Node{}, false
	}
	return *node, true
}

// List returns a snapshot of all registered nodes.
func (r *Registry) List() []Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		out = append(out, *node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// NodesFor returns the IDs of the nodes serving model, in index order.
func (r *Registry) NodesFor(model string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes := r.modelToNodes[model]
	ids := make([]string, 0, len(nodes))
	for _, node := range nodes {
		ids = append(ids, node.NodeID)
	}
	return ids
}

// Models returns the sorted union of all advertised model names.
func (r *Registry) Models() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	models := make([]string, 0, len(r.modelToNodes))
	for model, nodes := range r.modelToNodes {
		if len(nodes) > 0 {
			models = append(models, model)
		}
	}
	sort.Strings(models)
	return models
}

// Heartbeat updates the node's last-seen timestamp. No-op for unknown nodes.
func (r *Registry) Heartbeat(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if node, ok := r.nodes[nodeID]; ok {
		node.LastSeen = time.Now()
	}
}

// Prune removes nodes whose last-seen timestamp is older than maxAge,
// including their per-model index entries. Returns the pruned node IDs.
func (r *Registry) Prune(maxAge time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var pruned []string
	for nodeID, node := range r.nodes {
		if node.LastSeen.Before(cutoff) {
			pruned = append(pruned, nodeID)
		}
	}

	for _, nodeID := range pruned {
		node := r.nodes[nodeID]
		delete(r.nodes, nodeID)
		for _, model := range node.Models {
			r.modelToNodes[model] = removeNode(r.modelToNodes[model], nodeID)
		}
	}

	return pruned
}

func removeNode(nodes []*Node, nodeID string) []*Node {
	out := nodes[:0]
	for _, n := range nodes {
		if n.NodeID != nodeID {
			out = append(out, n)
		}
	}
	return out
}
