// Package mirror keeps local working copies in step with their remote
// repositories.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"

	"deploywatch/internal/security"
	"deploywatch/pkg/cmdutil"
	"deploywatch/pkg/fileutil"
)

// RemoteName is the remote every working copy tracks.
const RemoteName = "origin"

// RefResolutionError reports a git reference that does not resolve to a
// commit in the working copy.
type RefResolutionError struct {
	Path string
	Ref  string
	Err  error
}

func (e *RefResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %s in %s", e.Ref, e.Path)
}

func (e *RefResolutionError) Unwrap() error {
	return e.Err
}

// Mirror runs git against local working copies.
type Mirror struct {
	runner cmdutil.Runner
	logger *slog.Logger
}

// New creates a Mirror that shells out to git through runner.
func New(runner cmdutil.Runner, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{runner: runner, logger: logger}
}

// Ensure makes sure a working copy of repoURL exists at path. A missing path
// is cloned at branch, creating parent directories. For an existing path the
// origin URL is repointed to repoURL when it differs; problems doing so are
// logged and ignored so a manually managed copy keeps working.
func (m *Mirror) Ensure(ctx context.Context, repoURL, branch, path string) error {
	if !fileutil.PathExists(path) {
		m.logger.Debug("Cloning repository", "repo_url", repoURL, "path", path, "branch", branch)
		if err := os.MkdirAll(filepath.Dir(path), security.PermDirectory); err != nil {
			return fmt.Errorf("failed to create parent directory for %s: %w", path, err)
		}
		if _, err := m.runner.Run(ctx, "", true,
			"git", "clone", "--branch", branch, "--single-branch", repoURL, path); err != nil {
			return fmt.Errorf("failed to clone %s: %w", repoURL, err)
		}
		return nil
	}

	m.syncRemote(repoURL, path)
	return nil
}

func (m *Mirror) syncRemote(repoURL, path string) {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		m.logger.Debug("Cannot inspect working copy remote", "path", path, "error", err)
		return
	}

	cfg, err := repo.Config()
	if err != nil {
		m.logger.Debug("Cannot read working copy config", "path", path, "error", err)
		return
	}

	remote, ok := cfg.Remotes[RemoteName]
	if !ok {
		m.logger.Debug("Working copy has no origin remote", "path", path)
		return
	}
	if len(remote.URLs) > 0 && remote.URLs[0] == repoURL {
		return
	}

	m.logger.Debug("Updating remote URL", "path", path, "from", remote.URLs, "to", repoURL)
	remote.URLs = []string{repoURL}
	if err := repo.SetConfig(cfg); err != nil {
		m.logger.Debug("Failed to update remote URL", "path", path, "error", err)
	}
}

// Fetch updates the remote-tracking refs of the working copy, pruning
// branches deleted upstream.
func (m *Mirror) Fetch(ctx context.Context, path string) error {
	m.logger.Debug("Fetching origin", "path", path)
	if _, err := m.runner.Run(ctx, path, true, "git", "fetch", "--prune", RemoteName); err != nil {
		return fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	return nil
}

// Head resolves ref (HEAD, origin/<branch>, a hash...) to a commit hash.
func (m *Mirror) Head(ctx context.Context, path, ref string) (string, error) {
	out, err := m.runner.Run(ctx, path, true, "git", "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		return "", &RefResolutionError{Path: path, Ref: ref, Err: err}
	}

	hash := strings.TrimSpace(out)
	if hash == "" {
		return "", &RefResolutionError{Path: path, Ref: ref}
	}
	return hash, nil
}

// RemoteRef returns the remote-tracking ref for branch.
func RemoteRef(branch string) string {
	return RemoteName + "/" + branch
}

// ResetToRemote discards local commits and edits, moving the working copy
// to the tip of the remote-tracking branch.
func (m *Mirror) ResetToRemote(ctx context.Context, path, branch string) error {
	m.logger.Debug("Resetting working copy", "path", path, "ref", RemoteRef(branch))
	if _, err := m.runner.Run(ctx, path, true, "git", "reset", "--hard", RemoteRef(branch)); err != nil {
		return fmt.Errorf("failed to reset %s to %s: %w", path, RemoteRef(branch), err)
	}
	return nil
}
