package testutil

import (
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/clock/fakeclock"
)

// Epoch is the start time of every StepClock.
var Epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// StepClock is a fake clock whose waits complete immediately: Sleep and
// After advance the fake time by the requested duration and record it.
type StepClock struct {
	*fakeclock.FakeClock

	// OnWait, when set, runs after every wait with its duration.
	OnWait func(d time.Duration)

	mu    sync.Mutex
	waits []time.Duration
}

var _ clock.Clock = (*StepClock)(nil)

// NewStepClock returns a StepClock starting at Epoch.
func NewStepClock() *StepClock {
	return &StepClock{FakeClock: fakeclock.NewFakeClock(Epoch)}
}

// Sleep advances the clock by d.
func (c *StepClock) Sleep(d time.Duration) {
	c.wait(d)
}

// After advances the clock by d and returns a channel that has already fired.
func (c *StepClock) After(d time.Duration) <-chan time.Time {
	c.wait(d)
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

// Waits returns every duration waited so far.
func (c *StepClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

func (c *StepClock) wait(d time.Duration) {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	hook := c.OnWait
	c.mu.Unlock()

	c.Increment(d)
	if hook != nil {
		hook(d)
	}
}
