package operator

import "testing"

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	if !rl.Allow("1.2.3.4") || !rl.Allow("1.2.3.4") {
		t.Fatal("requests within the burst should be allowed")
	}
	if rl.Allow("1.2.3.4") {
		t.Error("request past the burst should be rejected")
	}
	// Limits are per IP.
	if !rl.Allow("5.6.7.8") {
		t.Error("a different IP has its own bucket")
	}
	if rl.Count() != 2 {
		t.Errorf("Count() = %d, want 2", rl.Count())
	}
}
