package deployment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"testing"
	"time"

	"deploywatch/internal/testutil"
	"deploywatch/pkg/cmdutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeploy_Success(t *testing.T) {
	runner := &testutil.FakeRunner{}
	clk := testutil.NewStepClock()
	d := NewDeployer(runner, clk, quietLogger(), ComposePlugin)

	if err := d.Deploy(context.Background(), "/srv/homelab/media", "docker-compose.yml", time.Minute); err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}

	calls := runner.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %v, want pull and up", calls)
	}
	if got := calls[0].String(); got != "docker compose -f docker-compose.yml pull --quiet" {
		t.Errorf("pull = %q", got)
	}
	if calls[0].RequireSuccess {
		t.Error("pull must be advisory")
	}
	if got := calls[1].String(); got != "docker compose -f docker-compose.yml up -d --remove-orphans" {
		t.Errorf("up = %q", got)
	}
	if !calls[1].RequireSuccess {
		t.Error("up must require success")
	}
	for _, c := range calls {
		if c.Dir != "/srv/homelab/media" {
			t.Errorf("%q ran in %q", c.String(), c.Dir)
		}
	}
	if len(clk.Waits()) != 0 {
		t.Errorf("waits = %v, want none", clk.Waits())
	}
}

func TestDeploy_PullFailureIsAdvisory(t *testing.T) {
	runner := &testutil.FakeRunner{Handler: func(call testutil.Call) (string, error) {
		if call.HasPrefix("docker", "compose", "-f", "compose.yml", "pull") {
			return "registry unreachable", testutil.Fail(call, 1, "registry unreachable")
		}
		return "", nil
	}}
	d := NewDeployer(runner, testutil.NewStepClock(), quietLogger(), ComposePlugin)

	if err := d.Deploy(context.Background(), "/srv/app", "compose.yml", time.Minute); err != nil {
		t.Errorf("Deploy() error = %v, pull failure must not fail the deploy", err)
	}
}

func TestDeploy_RetriesUntilSuccess(t *testing.T) {
	ups := 0
	runner := &testutil.FakeRunner{Handler: func(call testutil.Call) (string, error) {
		if call.Args[len(call.Args)-1] == "--remove-orphans" {
			ups++
			if ups < 3 {
				return "", testutil.Fail(call, 1, "network not found")
			}
		}
		return "", nil
	}}
	clk := testutil.NewStepClock()
	d := NewDeployer(runner, clk, quietLogger(), ComposePlugin)

	if err := d.Deploy(context.Background(), "/srv/app", "compose.yml", time.Minute); err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if ups != 3 {
		t.Errorf("up attempts = %d, want 3", ups)
	}
	waits := clk.Waits()
	if len(waits) != 2 || waits[0] != 6*time.Second || waits[1] != 7*time.Second {
		t.Errorf("waits = %v, want [6s 7s]", waits)
	}
}

func TestDeploy_RetryBound(t *testing.T) {
	runner := &testutil.FakeRunner{Handler: func(call testutil.Call) (string, error) {
		return "boom", testutil.Fail(call, 1, "boom")
	}}
	clk := testutil.NewStepClock()
	d := NewDeployer(runner, clk, quietLogger(), ComposePlugin)

	err := d.Deploy(context.Background(), "/srv/app", "compose.yml", 30*time.Second)

	var failed *DeployFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Deploy() error = %v, want *DeployFailedError", err)
	}
	if failed.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", failed.Attempts)
	}
	if failed.Dir != "/srv/app" || failed.ComposeFile != "compose.yml" {
		t.Errorf("DeployFailedError = %+v", failed)
	}
	var cmdErr *cmdutil.CommandFailedError
	if !errors.As(err, &cmdErr) {
		t.Error("DeployFailedError should wrap the last command failure")
	}

	// 6+7+8 seconds leave 9 of the budget: the last pause is cut to fit and
	// nothing runs once it is spent.
	want := []time.Duration{6 * time.Second, 7 * time.Second, 8 * time.Second, 9 * time.Second}
	waits := clk.Waits()
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("waits = %v, want %v", waits, want)
			break
		}
	}
	if got := runner.Count("docker", "compose", "-f", "compose.yml", "up"); got != 4 {
		t.Errorf("up calls = %d, want 4", got)
	}
	if elapsed := clk.Since(testutil.Epoch); elapsed != 30*time.Second {
		t.Errorf("gave up after %v, want exactly the 30s budget", elapsed)
	}
}

func TestDeploy_PauseCappedByBudget(t *testing.T) {
	runner := &testutil.FakeRunner{Handler: func(call testutil.Call) (string, error) {
		return "", testutil.Fail(call, 1, "")
	}}
	clk := testutil.NewStepClock()
	d := NewDeployer(runner, clk, quietLogger(), ComposePlugin)

	err := d.Deploy(context.Background(), "/srv/app", "compose.yml", 4*time.Second)

	var failed *DeployFailedError
	if !errors.As(err, &failed) || failed.Attempts != 1 {
		t.Fatalf("Deploy() error = %v, want *DeployFailedError after 1 attempt", err)
	}
	if waits := clk.Waits(); len(waits) != 1 || waits[0] != 4*time.Second {
		t.Errorf("waits = %v, want [4s]", waits)
	}
}

// hangingRunner blocks on `up` until the context ends.
type hangingRunner struct{}

func (hangingRunner) Run(ctx context.Context, dir string, requireSuccess bool, args ...string) (string, error) {
	if args[len(args)-1] != "--remove-orphans" {
		return "", nil
	}
	select {
	case <-ctx.Done():
		return "", &cmdutil.CommandFailedError{ExitCode: -1, Command: cmdutil.FormatCommand(args), Err: ctx.Err()}
	case <-time.After(10 * time.Second):
		return "", nil
	}
}

func TestDeploy_HungAttemptHitsDeadline(t *testing.T) {
	d := NewDeployer(hangingRunner{}, nil, quietLogger(), ComposePlugin)

	start := time.Now()
	err := d.Deploy(context.Background(), "/srv/app", "compose.yml", 200*time.Millisecond)
	elapsed := time.Since(start)

	var failed *DeployFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Deploy() error = %v, want *DeployFailedError", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Deploy() returned after %v, want close to the 200ms budget", elapsed)
	}
}

func TestDeploy_ContextCancelledDuringRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &testutil.FakeRunner{Handler: func(call testutil.Call) (string, error) {
		return "", testutil.Fail(call, 1, "")
	}}
	clk := testutil.NewStepClock()
	clk.OnWait = func(time.Duration) { cancel() }
	d := NewDeployer(runner, clk, quietLogger(), ComposePlugin)

	err := d.Deploy(ctx, "/srv/app", "compose.yml", time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Deploy() error = %v, want context.Canceled", err)
	}
	var failed *DeployFailedError
	if errors.As(err, &failed) {
		t.Error("cancellation must not be reported as a deploy failure")
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 6 * time.Second},
		{5, 10 * time.Second},
		{15, 20 * time.Second},
		{40, 20 * time.Second},
	}
	for _, tt := range tests {
		if got := RetryDelay(tt.attempt); got != tt.want {
			t.Errorf("RetryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDetectComposeCommand(t *testing.T) {
	orig := lookPath
	t.Cleanup(func() { lookPath = orig })

	tests := []struct {
		name       string
		pluginOK   bool
		legacyPath bool
		want       string
	}{
		{"plugin", true, true, "docker compose"},
		{"legacy binary", false, true, "docker-compose"},
		{"neither", false, false, "docker compose"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookPath = func(file string) (string, error) {
				if tt.legacyPath {
					return "/usr/local/bin/" + file, nil
				}
				return "", exec.ErrNotFound
			}
			runner := &testutil.FakeRunner{Handler: func(call testutil.Call) (string, error) {
				if tt.pluginOK {
					return "Docker Compose version v2.24.5\n", nil
				}
				return "docker: 'compose' is not a docker command.", testutil.Fail(call, 1, "")
			}}

			got := cmdutil.FormatCommand(DetectComposeCommand(context.Background(), runner))
			if got != tt.want {
				t.Errorf("DetectComposeCommand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeployer_DetectsOnce(t *testing.T) {
	runner := &testutil.FakeRunner{Handler: func(call testutil.Call) (string, error) {
		return "Docker Compose version v2.24.5\n", nil
	}}
	d := NewDeployer(runner, testutil.NewStepClock(), quietLogger(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := d.Deploy(ctx, "/srv/app", "compose.yml", time.Minute); err != nil {
			t.Fatalf("Deploy() error = %v", err)
		}
	}
	if got := runner.Count("docker", "compose", "version"); got != 1 {
		t.Errorf("version probes = %d, want 1", got)
	}
}

func TestParseComposeCommand(t *testing.T) {
	args, err := ParseComposeCommand("/opt/bin/docker-compose --ansi 'never'")
	if err != nil {
		t.Fatalf("ParseComposeCommand() error = %v", err)
	}
	if cmdutil.FormatCommand(args) != "/opt/bin/docker-compose --ansi never" {
		t.Errorf("ParseComposeCommand() = %v", args)
	}

	if args, err := ParseComposeCommand("  "); err != nil || args != nil {
		t.Errorf("blank = %v, %v; want nil, nil", args, err)
	}
	if _, err := ParseComposeCommand("docker 'compose"); err == nil {
		t.Error("unterminated quote should fail")
	}
}
