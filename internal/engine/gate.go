package engine

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"code.cloudfoundry.org/clock"
)

// Backoff parameters for readiness polling.
const (
	InitialDelay = 2 * time.Second
	MaxDelay     = 20 * time.Second
	Multiplier   = 1.7
	MaxJitter    = 750 * time.Millisecond
)

// Gate blocks until the container engine answers or a deadline passes.
type Gate struct {
	probe  Probe
	clock  clock.Clock
	logger *slog.Logger

	// jitter returns the random delay added to each backoff step.
	jitter func() time.Duration
}

// NewGate creates a readiness gate.
func NewGate(probe Probe, clk clock.Clock, logger *slog.Logger) *Gate {
	if clk == nil {
		clk = clock.NewClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		probe:  probe,
		clock:  clk,
		logger: logger,
		jitter: func() time.Duration { return rand.N(MaxJitter) },
	}
}

// WaitReady polls the probe with capped exponential backoff plus jitter.
// It returns true as soon as the engine answers, and false once maxWait has
// elapsed or ctx is done. maxWait is a hard deadline: each probe runs with
// only the remaining budget, and the pause between probes is cut to fit.
// It never returns an error: an unavailable engine is an expected
// transient state.
func (g *Gate) WaitReady(ctx context.Context, maxWait time.Duration) bool {
	g.logger.Debug("Waiting for container engine", "max_wait", maxWait)

	start := g.clock.Now()
	remaining := func() time.Duration { return maxWait - g.clock.Since(start) }

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		left := remaining()
		if left <= 0 {
			return false
		}

		err := g.ping(ctx, left)
		if err == nil {
			return true
		}
		g.logger.Debug("Container engine not ready", "attempt", attempt+1, "error", err)

		left = remaining()
		if left <= 0 {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-g.clock.After(min(Backoff(attempt)+g.jitter(), left)):
		}
	}
}

func (g *Gate) ping(ctx context.Context, budget time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	return g.probe.Ping(ctx)
}

// Backoff returns the delay before retry number attempt (zero based),
// without jitter.
func Backoff(attempt int) time.Duration {
	delay := float64(InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= Multiplier
		if delay >= float64(MaxDelay) {
			return MaxDelay
		}
	}
	return time.Duration(delay)
}
