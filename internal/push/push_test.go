package push

import (
	"testing"

	"github.com/mtrbls/llmhive/internal/queue"
)

func TestAttachAndTryPush(t *testing.T) {
	table := NewTable(4)

	if table.TryPush("w", Event{Type: EventJob}) {
		t.Error("TryPush() should fail for an unconnected node")
	}

	conn := table.Attach("w")
	if !table.Connected("w") {
		t.Fatal("Connected() = false after Attach")
	}

	if !table.TryPush("w", Event{Type: EventJob, Job: &queue.Job{JobID: "j1"}}) {
		t.Fatal("TryPush() failed on an open channel")
	}
	ev := <-conn.C
	if ev.Type != EventJob || ev.Job.JobID != "j1" {
		t.Errorf("received %+v, want job j1", ev)
	}

	conn.Close()
	if table.Connected("w") {
		t.Error("Connected() = true after Close")
	}
}

func TestTryPushFullChannel(t *testing.T) {
	table := NewTable(2)
	table.Attach("w")

	if !table.TryPush("w", Event{Type: EventJob}) {
		t.Fatal("first push should fit")
	}
	if !table.TryPush("w", Event{Type: EventJob}) {
		t.Fatal("second push should fit")
	}
	if table.TryPush("w", Event{Type: EventJob}) {
		t.Error("push into a full channel must fail, not block")
	}
}

func TestPushJobRoundRobin(t *testing.T) {
	table := NewTable(8)
	c1 := table.Attach("w1")
	c2 := table.Attach("w2")

	job := queue.Job{Model: "m", Prompt: "p"}
	var order []string
	for i := 0; i < 4; i++ {
		nodeID, ok := table.PushJob([]string{"w1", "w2"}, job)
		if !ok {
			t.Fatalf("PushJob() %d failed", i)
		}
		order = append(order, nodeID)
	}

	want := []string{"w1", "w2", "w1", "w2"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", order, want)
		}
	}

	if len(c1.C) != 2 || len(c2.C) != 2 {
		t.Errorf("channel depths = %d, %d; want 2, 2", len(c1.C), len(c2.C))
	}
}

func TestPushJobSkipsDisconnected(t *testing.T) {
	table := NewTable(4)
	table.Attach("w2")

	nodeID, ok := table.PushJob([]string{"w1", "w2", "w3"}, queue.Job{Model: "m"})
	if !ok || nodeID != "w2" {
		t.Errorf("PushJob() = %q, %v; want w2", nodeID, ok)
	}
}

func TestPushJobSkipsFullChannels(t *testing.T) {
	table := NewTable(1)
	table.Attach("w1")
	c2 := table.Attach("w2")

	// Fill w1's channel.
	if _, ok := table.PushJob([]string{"w1"}, queue.Job{JobID: "a", Model: "m"}); !ok {
		t.Fatal("priming push failed")
	}

	// Next push for the same model lands on w2 even though the cursor
	// points at w1.
	nodeID, ok := table.PushJob([]string{"w1", "w2"}, queue.Job{JobID: "b", Model: "m"})
	if !ok || nodeID != "w2" {
		t.Fatalf("PushJob() = %q, %v; want w2", nodeID, ok)
	}
	if ev := <-c2.C; ev.Job.JobID != "b" {
		t.Errorf("w2 received %s, want b", ev.Job.JobID)
	}
}

func TestPushJobNoConnections(t *testing.T) {
	table := NewTable(4)
	if _, ok := table.PushJob([]string{"w1", "w2"}, queue.Job{Model: "m"}); ok {
		t.Error("PushJob() should fail with no connected candidates")
	}
}

func TestReconnectReplacesChannel(t *testing.T) {
	table := NewTable(4)
	old := table.Attach("w")
	fresh := table.Attach("w")

	table.TryPush("w", Event{Type: EventJob, Job: &queue.Job{JobID: "j"}})
	select {
	case ev := <-fresh.C:
		if ev.Job.JobID != "j" {
			t.Errorf("fresh channel received %s", ev.Job.JobID)
		}
	default:
		t.Fatal("push did not reach the replacement channel")
	}

	// Closing the stale connection must not detach the replacement.
	old.Close()
	if !table.Connected("w") {
		t.Error("stale Close() removed the replacement channel")
	}
	fresh.Close()
	if table.Connected("w") {
		t.Error("Close() on the live connection should detach it")
	}
}
