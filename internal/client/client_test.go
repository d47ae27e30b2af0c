package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegister(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/register" || r.Method != http.MethodPost {
			t.Errorf("request = %s %s, want POST /register", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]string{"status": "registered"})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, NodeID: "w1"})
	err := c.Register(context.Background(), "http://10.0.0.1:11434", []string{"llama3"}, "addr1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if got["node_id"] != "w1" || got["payout_address"] != "addr1" {
		t.Errorf("register body = %v", got)
	}
	models, _ := got["models"].([]any)
	if len(models) != 1 || models[0] != "llama3" {
		t.Errorf("models = %v, want [llama3]", got["models"])
	}
}

func TestRegisterOmitsEmptyPayout(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, NodeID: "w1"})
	c.Register(context.Background(), "http://x", []string{"m"}, "")

	if _, present := got["payout_address"]; present {
		t.Error("empty payout_address should be omitted from the body")
	}
}

func TestPoll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("node_id") != "w1" || r.URL.Query().Get("models") != "llama3,phi3" {
			t.Errorf("poll query = %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"job_id": "job-abc", "model": "llama3", "prompt": "2+2",
		})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, NodeID: "w1"})
	job, ok, err := c.Poll(context.Background(), []string{"llama3", "phi3"})
	if err != nil || !ok {
		t.Fatalf("Poll() = %v, %v, %v", job, ok, err)
	}
	if job.JobID != "job-abc" || job.Prompt != "2+2" {
		t.Errorf("job = %+v", job)
	}
}

func TestPollEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, NodeID: "w1"})
	job, ok, err := c.Poll(context.Background(), []string{"m"})
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if ok || job != nil {
		t.Errorf("Poll() on 204 = %v, %v; want nothing", job, ok)
	}
}

func TestSendChunkAndDone(t *testing.T) {
	var paths []string
	var chunk map[string]string
	var doneQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/jobs/job-abc/chunk":
			json.NewDecoder(r.Body).Decode(&chunk)
		case "/jobs/job-abc/done":
			doneQuery = r.URL.RawQuery
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, NodeID: "w1"})
	ctx := context.Background()

	if err := c.SendChunk(ctx, "job-abc", `{"token":"4","done":false}`+"\n"); err != nil {
		t.Fatalf("SendChunk() error = %v", err)
	}
	if chunk["chunk"] != `{"token":"4","done":false}`+"\n" {
		t.Errorf("chunk body = %v", chunk)
	}

	if err := c.Done(ctx, "job-abc", "model crashed"); err != nil {
		t.Fatalf("Done() error = %v", err)
	}
	if doneQuery != "error=model+crashed" {
		t.Errorf("done query = %q", doneQuery)
	}
}

func TestErrorMessagesSurfaceOperatorError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "node_id, url, and models are required"})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, NodeID: ""})
	err := c.Register(context.Background(), "http://x", []string{"m"}, "")
	if err == nil {
		t.Fatal("Register() should fail on 400")
	}
	want := "register with operator: node_id, url, and models are required (status 400)"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err, want)
	}
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, NodeID: "w1"})
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("Health() error = %v", err)
	}

	c = New(Config{BaseURL: server.URL + "/missing", NodeID: "w1"})
	if err := c.Health(context.Background()); err == nil {
		t.Error("Health() against a bad path should fail")
	}
}
