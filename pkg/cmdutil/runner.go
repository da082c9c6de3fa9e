package cmdutil

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Runner executes external commands on behalf of the git mirror, the engine
// probe and the compose deployer. Implementations capture merged
// stdout/stderr. When requireSuccess is set a non-zero exit is reported as a
// *CommandFailedError; otherwise the output is returned whatever the exit
// code. Runners never retry.
type Runner interface {
	Run(ctx context.Context, dir string, requireSuccess bool, args ...string) (string, error)
}

// CommandFailedError reports a command that exited non-zero when success
// was required.
type CommandFailedError struct {
	ExitCode int
	Command  string
	Output   string
	Err      error
}

func (e *CommandFailedError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("command failed [%d]: %s", e.ExitCode, e.Command)
	}
	return fmt.Sprintf("command failed [%d]: %s\n%s", e.ExitCode, e.Command, out)
}

func (e *CommandFailedError) Unwrap() error {
	return e.Err
}

// ExecRunner is the Runner backed by os/exec. Commands inherit the process
// environment.
type ExecRunner struct {
	// Timeout bounds every single command. Zero means no bound beyond the
	// caller's context.
	Timeout time.Duration

	logger *slog.Logger
}

// NewExecRunner creates a runner that logs each invocation at debug level.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, dir string, requireSuccess bool, args ...string) (string, error) {
	command := FormatCommand(args)
	r.logger.Debug("RUN", "command", command, "dir", dir)

	result, err := Run(ctx, ExecOptions{
		Dir:            dir,
		Timeout:        r.Timeout,
		CombinedOutput: true,
	}, args)
	if result == nil {
		return "", &CommandFailedError{ExitCode: -1, Command: command, Err: err}
	}

	output := string(result.Output)
	if err != nil && requireSuccess {
		return output, &CommandFailedError{
			ExitCode: result.ExitCode,
			Command:  command,
			Output:   output,
			Err:      err,
		}
	}

	return output, nil
}
