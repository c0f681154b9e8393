package signal

import (
	"sync"
	"time"

	"github.com/dkeye/CallBridge/internal/core"
)

// RequestRateLimiter caps how often one link may ask to start a call.
type RequestRateLimiter struct {
	mu       sync.Mutex
	history  map[core.SessionID][]time.Time
	limit    int
	interval time.Duration
}

func NewRequestRateLimiter(limit int, interval time.Duration) *RequestRateLimiter {
	return &RequestRateLimiter{
		history:  make(map[core.SessionID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *RequestRateLimiter) Allow(sid core.SessionID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[sid]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[sid] = fresh
		return false
	}

	rl.history[sid] = append(fresh, now)
	return true
}
