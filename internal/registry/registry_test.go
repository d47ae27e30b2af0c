package registry

import (
	"testing"
	"time"
)

func TestRegisterAndList(t *testing.T) {
	r := New()

	r.Register("node-1", "http://10.0.0.1:9000", []string{"llama3"}, "addr1")
	r.Register("node-2", "http://10.0.0.2:9000", []string{"llama3", "mistral"}, "")

	nodes := r.List()
	if len(nodes) != 2 {
		t.Fatalf("List() returned %d nodes, want 2", len(nodes))
	}
	if nodes[0].NodeID != "node-1" || nodes[1].NodeID != "node-2" {
		t.Errorf("List() order = %s, %s; want node-1, node-2", nodes[0].NodeID, nodes[1].NodeID)
	}
	if nodes[0].PayoutAddress != "addr1" {
		t.Errorf("PayoutAddress = %q, want addr1", nodes[0].PayoutAddress)
	}
	if nodes[0].LastSeen.IsZero() {
		t.Error("LastSeen should be set on registration")
	}
}

func TestPickRoundRobin(t *testing.T) {
	r := New()
	r.Register("w1", "http://w1", []string{"m"}, "")
	r.Register("w2", "http://w2", []string{"m"}, "")
	r.Register("w3", "http://w3", []string{"m"}, "")

	// Over 2N consecutive picks with stable membership, each node must be
	// returned exactly twice.
	counts := make(map[string]int)
	for i := 0; i < 6; i++ {
		node, ok := r.Pick("m")
		if !ok {
			t.Fatal("Pick() returned no node")
		}
		counts[node.NodeID]++
	}
	for _, id := range []string{"w1", "w2", "w3"} {
		if counts[id] != 2 {
			t.Errorf("node %s picked %d times, want 2", id, counts[id])
		}
	}
}

func TestPickUnknownModel(t *testing.T) {
	r := New()
	if _, ok := r.Pick("mystery"); ok {
		t.Error("Pick() should return false for a model nobody serves")
	}
}

func TestReRegistrationDoesNotDuplicate(t *testing.T) {
	r := New()
	r.Register("w", "http://w", []string{"a", "b"}, "")
	r.Register("w", "http://w", []string{"b", "c"}, "")

	if got := r.NodesFor("a"); len(got) != 0 {
		t.Errorf("model a still lists %v after re-registration", got)
	}
	for _, model := range []string{"b", "c"} {
		got := r.NodesFor(model)
		if len(got) != 1 || got[0] != "w" {
			t.Errorf("model %s lists %v, want exactly [w]", model, got)
		}
	}
	if len(r.List()) != 1 {
		t.Errorf("List() returned %d nodes, want 1", len(r.List()))
	}
}

func TestHeartbeatUpdatesLastSeen(t *testing.T) {
	r := New()
	r.Register("w", "http://w", []string{"m"}, "")

	before, _ := r.Get("w")
	time.Sleep(5 * time.Millisecond)
	r.Heartbeat("w")
	after, _ := r.Get("w")

	if !after.LastSeen.After(before.LastSeen) {
		t.Error("Heartbeat() should advance LastSeen")
	}

	// Unknown node is a no-op, not a panic
	r.Heartbeat("ghost")
}

func TestPruneRemovesStaleNodes(t *testing.T) {
	r := New()
	r.Register("stale", "http://stale", []string{"m", "n"}, "")
	r.Register("fresh", "http://fresh", []string{"m"}, "")

	time.Sleep(10 * time.Millisecond)
	r.Heartbeat("fresh")

	pruned := r.Prune(5 * time.Millisecond)
	if len(pruned) != 1 || pruned[0] != "stale" {
		t.Fatalf("Prune() = %v, want [stale]", pruned)
	}

	if _, ok := r.Get("stale"); ok {
		t.Error("stale node still present after prune")
	}
	if got := r.NodesFor("m"); len(got) != 1 || got[0] != "fresh" {
		t.Errorf("model m lists %v after prune, want [fresh]", got)
	}
	if got := r.NodesFor("n"); len(got) != 0 {
		t.Errorf("model n lists %v after prune, want empty", got)
	}
}

func TestModelsUnion(t *testing.T) {
	r := New()
	r.Register("w1", "http://w1", []string{"llama3", "mistral"}, "")
	r.Register("w2", "http://w2", []string{"llama3", "phi3"}, "")

	models := r.Models()
	want := []string{"llama3", "mistral", "phi3"}
	if len(models) != len(want) {
		t.Fatalf("Models() = %v, want %v", models, want)
	}
	for i := range want {
		if models[i] != want[i] {
			t.Errorf("Models()[%d] = %s, want %s", i, models[i], want[i])
		}
	}
}

func TestPickAfterRegistrationChange(t *testing.T) {
	r := New()
	r.Register("w1", "http://w1", []string{"m"}, "")
	r.Register("w2", "http://w2", []string{"m"}, "")

	r.Pick("m")
	r.Prune(0) // removes both

	if _, ok := r.Pick("m"); ok {
		t.Error("Pick() should fail after all nodes pruned")
	}

	r.Register("w3", "http://w3", []string{"m"}, "")
	node, ok := r.Pick("m")
	if !ok || node.NodeID != "w3" {
		t.Errorf("Pick() = %v, %v; want w3", node.NodeID, ok)
	}
}
