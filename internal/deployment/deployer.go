// Package deployment brings compose stacks up to date and guards working
// copies against overlapping reconciliations.
package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"deploywatch/pkg/cmdutil"
)

// MaxRetryDelay caps the pause between deploy attempts.
const MaxRetryDelay = 20 * time.Second

// DeployFailedError reports a stack that kept failing until its time budget
// ran out. Err is the last attempt's failure.
type DeployFailedError struct {
	Dir         string
	ComposeFile string
	Attempts    int
	Err         error
}

func (e *DeployFailedError) Error() string {
	return fmt.Sprintf("deploy of %s (%s) failed after %d attempts: %v", e.Dir, e.ComposeFile, e.Attempts, e.Err)
}

func (e *DeployFailedError) Unwrap() error {
	return e.Err
}

// Deployer pulls and starts compose stacks.
type Deployer struct {
	runner cmdutil.Runner
	clock  clock.Clock
	logger *slog.Logger

	once    sync.Once
	command []string
}

// NewDeployer creates a Deployer. command is the compose command prefix;
// when empty it is detected on first use.
func NewDeployer(runner cmdutil.Runner, clk clock.Clock, logger *slog.Logger, command []string) *Deployer {
	if clk == nil {
		clk = clock.NewClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{
		runner:  runner,
		clock:   clk,
		logger:  logger,
		command: clone(command),
	}
}

// ComposeCommand returns the compose command prefix, detecting it once.
func (d *Deployer) ComposeCommand(ctx context.Context) []string {
	d.once.Do(func() {
		if len(d.command) == 0 {
			d.command = DetectComposeCommand(ctx, d.runner)
			d.logger.Debug("Detected compose command", "command", cmdutil.FormatCommand(d.command))
		}
	})
	return clone(d.command)
}

// RetryDelay returns the pause after the given failed attempt (1-based).
func RetryDelay(attempt int) time.Duration {
	return min(time.Duration(5+attempt)*time.Second, MaxRetryDelay)
}

// Deploy runs pull and up for one stack, retrying until an attempt succeeds
// or totalTimeout has elapsed since the first attempt. The budget is a hard
// deadline: a hung attempt is killed when it runs out, and the pause before
// a retry never outlasts it.
func (d *Deployer) Deploy(ctx context.Context, dir, composeFile string, totalTimeout time.Duration) error {
	start := d.clock.Now()
	remaining := func() time.Duration { return totalTimeout - d.clock.Since(start) }

	for attempt := 1; ; attempt++ {
		err := d.attempt(ctx, dir, composeFile, remaining())
		if err == nil {
			d.logger.Debug("Stack is up", "dir", dir, "compose_file", composeFile, "attempts", attempt)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		left := remaining()
		if left <= 0 {
			return d.failed(dir, composeFile, attempt, err)
		}

		delay := min(RetryDelay(attempt), left)
		d.logger.Debug("Compose up failed, retrying",
			"dir", dir,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.clock.After(delay):
		}

		if remaining() <= 0 {
			return d.failed(dir, composeFile, attempt, err)
		}
	}
}

func (d *Deployer) failed(dir, composeFile string, attempts int, err error) error {
	return &DeployFailedError{
		Dir:         dir,
		ComposeFile: composeFile,
		Attempts:    attempts,
		Err:         err,
	}
}

// attempt runs pull and up with at most budget to spend.
func (d *Deployer) attempt(ctx context.Context, dir, composeFile string, budget time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	base := append(d.ComposeCommand(ctx), "-f", composeFile)

	// Pull failures are advisory: up still runs with the images on hand.
	d.runner.Run(ctx, dir, false, append(clone(base), "pull", "--quiet")...)

	_, err := d.runner.Run(ctx, dir, true, append(clone(base), "up", "-d", "--remove-orphans")...)
	return err
}
