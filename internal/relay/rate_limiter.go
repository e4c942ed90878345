package relay

import (
	"sync"
	"time"
)

// RateLimiter enforces a per-sender sliding window message budget.
// TECHNICAL DISCOVERY: Timestamps are pruned on access, so idle senders cost
// nothing once their window drains
type RateLimiter struct {
	mu          sync.Mutex
	maxMessages int
	window      time.Duration
	senders     map[string][]time.Time
}

// NewRateLimiter creates a limiter allowing maxMessages per window per sender.
func NewRateLimiter(maxMessages int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxMessages: maxMessages,
		window:      window,
		senders:     make(map[string][]time.Time),
	}
}

// Allow reports whether the sender may emit another message now.
func (rl *RateLimiter) Allow(senderID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	timestamps := rl.senders[senderID]
	live := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}

	if len(live) >= rl.maxMessages {
		rl.senders[senderID] = live
		return false
	}

	rl.senders[senderID] = append(live, now)
	return true
}

// Reset clears the window for one sender.
func (rl *RateLimiter) Reset(senderID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.senders, senderID)
}
