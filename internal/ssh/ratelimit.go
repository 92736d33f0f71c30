package ssh

import (
	"net"
	"sync"
	"time"
)

type hostState struct {
	tokens    float64
	lastCheck time.Time
}

// connLimiter enforces a per-host connection rate using a token bucket.
type connLimiter struct {
	mu        sync.Mutex
	hosts     map[string]*hostState
	maxPerSec float64
	burst     float64 // max tokens (2× maxPerSec)
}

func newConnLimiter(maxPerSec float64) *connLimiter {
	return &connLimiter{
		hosts:     make(map[string]*hostState),
		maxPerSec: maxPerSec,
		burst:     maxPerSec * 2,
	}
}

// allow reports whether a new connection from addr is within the limit.
// A non-positive rate disables limiting.
func (r *connLimiter) allow(addr net.Addr) bool {
	if r.maxPerSec <= 0 {
		return true
	}
	host := addr.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	state, ok := r.hosts[host]
	if !ok {
		r.hosts[host] = &hostState{
			tokens:    r.burst - 1,
			lastCheck: now,
		}
		return true
	}

	state.tokens += now.Sub(state.lastCheck).Seconds() * r.maxPerSec
	if state.tokens > r.burst {
		state.tokens = r.burst
	}
	state.lastCheck = now

	if state.tokens >= 1 {
		state.tokens--
		return true
	}
	return false
}

// cleanupLoop periodically drops idle hosts until done is closed.
func (r *connLimiter) cleanupLoop(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.cleanup()
		case <-done:
			return
		}
	}
}

func (r *connLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-5 * time.Minute)
	for host, state := range r.hosts {
		if state.lastCheck.Before(cutoff) {
			delete(r.hosts, host)
		}
	}
}
