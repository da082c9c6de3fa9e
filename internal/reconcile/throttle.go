package reconcile

import (
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"golang.org/x/time/rate"
)

// Throttle hands out one token bucket per key, refilled once every interval
// of clock time. The first event for a key is always allowed.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    time.Duration
	clock    clock.Clock
}

// NewThrottle creates a Throttle allowing one event per key every interval.
func NewThrottle(every time.Duration, clk clock.Clock) *Throttle {
	return &Throttle{
		limiters: make(map[string]*rate.Limiter),
		every:    every,
		clock:    clk,
	}
}

// Limiter returns the limiter for key, creating it on first use.
func (t *Throttle) Limiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	limiter, exists := t.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(t.every), 1)
		t.limiters[key] = limiter
	}

	return limiter
}

// Allow reports whether an event for key may happen now.
func (t *Throttle) Allow(key string) bool {
	return t.Limiter(key).AllowN(t.clock.Now(), 1)
}
