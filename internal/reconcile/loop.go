// Package reconcile drives the watcher: on every tick it checks each
// project's working copy against its upstream branch and redeploys the
// project's stacks when they differ.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"deploywatch/internal/deployment"
	"deploywatch/internal/history"
	"deploywatch/internal/mirror"
	"deploywatch/internal/notify"
	"deploywatch/internal/project"
	"deploywatch/internal/stack"
	"deploywatch/pkg/templates"
)

const (
	// EngineWarnInterval is the minimum spacing of engine-down notifications.
	EngineWarnInterval = 300 * time.Second
	// HeartbeatInterval is the minimum spacing of per-project "no changes" logs.
	HeartbeatInterval = 10 * time.Minute
)

// Gate reports whether the container engine is usable.
type Gate interface {
	WaitReady(ctx context.Context, maxWait time.Duration) bool
}

// Mirror keeps working copies in step with their remotes.
type Mirror interface {
	Ensure(ctx context.Context, repoURL, branch, path string) error
	Fetch(ctx context.Context, path string) error
	Head(ctx context.Context, path, ref string) (string, error)
	ResetToRemote(ctx context.Context, path, branch string) error
}

// Deployer brings one compose stack up.
type Deployer interface {
	Deploy(ctx context.Context, dir, composeFile string, totalTimeout time.Duration) error
}

// Sender delivers notifications. It must not fail.
type Sender interface {
	Send(ctx context.Context, msg notify.Message)
}

// Recorder stores deployment outcomes.
type Recorder interface {
	RecordDeployment(ctx context.Context, record *history.DeploymentRecord) (int64, error)
}

// State is what the loop remembers about a project between ticks.
type State struct {
	// LastSeen is the last commit deployed, or first observed.
	LastSeen string
	// Pending is the commit owed a deployment. It is cleared only once
	// every stack of that commit is up.
	Pending string
}

// Options are the loop's timing and discovery knobs.
type Options struct {
	PollInterval       time.Duration
	EngineReadyTimeout time.Duration
	ComposeTimeout     time.Duration
	DiscoveryDepth     int
}

// OptionsFromConfig takes the loop options from a loaded configuration.
func OptionsFromConfig(cfg *project.Config) Options {
	return Options{
		PollInterval:       cfg.PollInterval,
		EngineReadyTimeout: cfg.EngineReadyTimeout,
		ComposeTimeout:     cfg.ComposeTimeout,
		DiscoveryDepth:     cfg.DiscoveryDepth,
	}
}

// Deps are the collaborators of a Loop. Notifier, Recorder, Renderer and
// Clock are optional.
type Deps struct {
	Gate     Gate
	Mirror   Mirror
	Deployer Deployer
	Notifier Sender
	Recorder Recorder
	Renderer *templates.Renderer
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Loop reconciles a fixed, ordered set of projects.
type Loop struct {
	projects *project.Registry
	opts     Options
	deps     Deps
	host     string

	// locks keeps overlapping Tick calls, from Run and from callers
	// such as a manual trigger, off the same working copy.
	locks     *deployment.LockManager
	engine    *Throttle
	heartbeat *Throttle

	mu     sync.Mutex
	states map[string]*State
}

// New creates a Loop over the registry's projects, processed in
// configuration order.
func New(projects *project.Registry, opts Options, deps Deps) *Loop {
	if deps.Clock == nil {
		deps.Clock = clock.NewClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewDispatcher(deps.Logger)
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}

	return &Loop{
		projects:  projects,
		opts:      opts,
		deps:      deps,
		host:      host,
		locks:     deployment.NewLockManager(),
		engine:    NewThrottle(EngineWarnInterval, deps.Clock),
		heartbeat: NewThrottle(HeartbeatInterval, deps.Clock),
		states:    make(map[string]*State),
	}
}

// State returns a copy of the state held for a project.
func (l *Loop) State(name string) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.states[name]
	if !ok {
		return State{}, false
	}
	return *s, true
}

func (l *Loop) state(name string) *State {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.states[name]
	if !ok {
		s = &State{}
		l.states[name] = s
	}
	return s
}

// Run validates the projects, announces itself and then ticks every poll
// interval until ctx is cancelled. Invalid projects are reported as a
// *project.ConfigurationError before any project is touched.
func (l *Loop) Run(ctx context.Context) error {
	if err := project.Validate(l.projects.All()); err != nil {
		return err
	}

	l.deps.Logger.Info("Watcher started",
		"host", l.host,
		"projects", l.projects.Count(),
		"poll_interval", l.opts.PollInterval,
	)
	l.notify(ctx, templates.Started, l.messageData())

	for {
		l.Tick(ctx)

		select {
		case <-ctx.Done():
			l.deps.Logger.Info("Watcher stopped", "host", l.host)
			return nil
		case <-l.deps.Clock.After(l.opts.PollInterval):
		}
	}
}

// Tick runs one reconciliation pass: the engine gate, then every project in
// order. A failing project never stops the others. Tick may be called while
// another Tick is running; a working copy still being reconciled is skipped.
func (l *Loop) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if !l.deps.Gate.WaitReady(ctx, l.opts.EngineReadyTimeout) {
		if ctx.Err() != nil {
			return
		}
		l.deps.Logger.Warn("Container engine not ready", "host", l.host, "timeout", l.opts.EngineReadyTimeout)
		if l.engine.Allow("engine") {
			l.notify(ctx, templates.EngineDown, l.messageData())
		}
		return
	}

	for _, p := range l.projects.All() {
		if ctx.Err() != nil {
			return
		}
		l.reconcile(ctx, p)
	}
}

// deployRun carries what a deploy attempt has learned so far.
type deployRun struct {
	started  time.Time
	local    string
	remote   string
	stacks   []stack.Stack
	deployed bool
}

func (l *Loop) reconcile(ctx context.Context, p *project.Project) {
	logger := l.deps.Logger.With("project", p.Name)

	if !l.locks.TryLock(p.Path) {
		logger.Warn("Working copy busy, skipping", "path", p.Path)
		return
	}
	defer l.locks.Unlock(p.Path)

	run := &deployRun{}
	err := l.guard(func() error {
		return l.reconcileProject(ctx, p, l.state(p.Name), run, logger)
	})
	if err == nil {
		return
	}

	// Failures caused by shutdown are not reported.
	if ctx.Err() != nil {
		logger.Info("Reconciliation interrupted", "error", err)
		return
	}

	logger.Error("Deployment failed", "host", l.host, "error", err)

	data := l.messageData()
	data.Project = p.Name
	data.Branch = p.Branch
	data.Commit = run.remote
	data.PreviousCommit = run.local
	data.Error = err.Error()
	l.notify(ctx, templates.Failed, data)

	if run.deployed {
		l.record(ctx, p, run, err)
	}
}

// guard runs fn, turning a panic into an error.
func (l *Loop) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}

func (l *Loop) reconcileProject(ctx context.Context, p *project.Project, st *State, run *deployRun, logger *slog.Logger) error {
	m := l.deps.Mirror

	if err := m.Ensure(ctx, p.RepoURL, p.Branch, p.Path); err != nil {
		return err
	}
	if err := m.Fetch(ctx, p.Path); err != nil {
		return err
	}

	local, err := m.Head(ctx, p.Path, "HEAD")
	if err != nil {
		return err
	}
	remote, err := m.Head(ctx, p.Path, mirror.RemoteRef(p.Branch))
	if err != nil {
		return err
	}
	run.local, run.remote = local, remote

	if st.LastSeen == "" {
		st.LastSeen = local
		logger.Debug("Baseline captured", "commit", local)
	}

	if st.Pending == "" && local == remote {
		if l.heartbeat.Allow(p.Name) {
			logger.Debug("No changes", "commit", local)
		}
		return nil
	}

	// Pending is recorded before the working copy is touched so an
	// interrupted deploy is retried on the next tick.
	st.Pending = remote
	run.deployed = true
	run.started = l.deps.Clock.Now()
	logger.Info("Deploying", "from", local, "to", remote, "branch", p.Branch)

	if err := m.ResetToRemote(ctx, p.Path, p.Branch); err != nil {
		return err
	}

	stacks, err := stack.Locate(p, l.opts.DiscoveryDepth)
	if err != nil {
		return err
	}
	run.stacks = stacks

	if len(stacks) == 0 {
		logger.Info("No compose stacks found, skipping deploy", "path", p.Path)
	}
	for _, s := range stacks {
		logger.Debug("Deploying stack", "dir", s.Dir, "compose_file", s.ComposeFile)
		if err := l.deps.Deployer.Deploy(ctx, s.Dir, s.ComposeFile, l.opts.ComposeTimeout); err != nil {
			return err
		}
	}

	logger.Info("Deployed", "commit", remote, "previous", local, "stacks", len(stacks))

	data := l.messageData()
	data.Project = p.Name
	data.Branch = p.Branch
	data.Commit = remote
	data.PreviousCommit = local
	data.Stacks = stackNames(p.Path, stacks)
	l.notify(ctx, templates.Deployed, data)

	st.LastSeen = remote
	st.Pending = ""
	l.record(ctx, p, run, nil)
	return nil
}

func (l *Loop) record(ctx context.Context, p *project.Project, run *deployRun, deployErr error) {
	if l.deps.Recorder == nil {
		return
	}

	completed := l.deps.Clock.Now()
	duration := completed.Sub(run.started).Seconds()
	record := &history.DeploymentRecord{
		Project:         p.Name,
		Branch:          p.Branch,
		Status:          history.StatusSuccess,
		StartedAt:       run.started,
		CompletedAt:     &completed,
		DurationSeconds: &duration,
		CommitHash:      run.remote,
		PreviousCommit:  run.local,
		Stacks:          len(run.stacks),
	}
	if deployErr != nil {
		msg := deployErr.Error()
		record.Status = history.StatusFailed
		record.ErrorMessage = &msg
	}

	if _, err := l.deps.Recorder.RecordDeployment(ctx, record); err != nil {
		l.deps.Logger.Warn("Failed to record deployment history", "project", p.Name, "error", err)
	}
}

// stackNames lists stacks relative to the working copy root.
func stackNames(root string, stacks []stack.Stack) []string {
	names := make([]string, 0, len(stacks))
	for _, s := range stacks {
		name, err := filepath.Rel(root, s.Path())
		if err != nil {
			name = s.Path()
		}
		names = append(names, name)
	}
	return names
}

func (l *Loop) messageData() templates.MessageData {
	data := templates.NewMessageData(l.deps.Clock.Now())
	data.Host = l.host
	return data
}

func (l *Loop) notify(ctx context.Context, name string, data templates.MessageData) {
	subject, body, err := l.deps.Renderer.Render(name, data)
	if err != nil {
		l.deps.Logger.Warn("Failed to render notification", "template", name, "error", err)
		return
	}
	l.deps.Notifier.Send(ctx, notify.Message{Subject: subject, Body: body})
}
