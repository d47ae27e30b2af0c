package operator

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter provides per-IP rate limiting for inference requests.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rateLimiterEntry

	rps   float64
	burst int

	// entries idle longer than entryTTL are dropped on the next sweep
	entryTTL  time.Duration
	lastSweep time.Time
}

type rateLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewRateLimiter creates a per-IP rate limiter.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters:  make(map[string]*rateLimiterEntry),
		rps:       rps,
		burst:     burst,
		entryTTL:  10 * time.Minute,
		lastSweep: time.Now(),
	}
}

// Allow checks if a request from the given IP is allowed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastSweep) > rl.entryTTL {
		for key, entry := range rl.limiters {
			if entry.lastAccess.Before(now.Add(-rl.entryTTL)) {
				delete(rl.limiters, key)
			}
		}
		rl.lastSweep = now
	}

	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &rateLimiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.rps), rl.burst),
		}
		rl.limiters[ip] = entry
	}
	entry.lastAccess = now

	return entry.limiter.Allow()
}

// Count returns the number of tracked IPs.
func (rl *RateLimiter) Count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// clientIP extracts the client address for rate limiting.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
