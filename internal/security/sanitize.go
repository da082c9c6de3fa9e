package security

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Safe patterns for validation
	scpURLPattern  = regexp.MustCompile(`^[a-zA-Z0-9_.-]+@[a-zA-Z0-9_.-]+:[a-zA-Z0-9_./~-]+$`)
	branchPattern  = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
	projectPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	composePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+\.ya?ml$`)
)

var allowedSchemes = map[string]bool{
	"https": true,
	"http":  true,
	"ssh":   true,
	"git":   true,
	"file":  true,
}

// ValidateRepoURL ensures a repository URL is safe to hand to git clone.
// Accepted forms are URLs with a known scheme, scp-style "user@host:path"
// addresses and absolute local paths.
func ValidateRepoURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if strings.HasPrefix(rawURL, "-") {
		return fmt.Errorf("repository URL cannot start with '-'")
	}
	if strings.ContainsAny(rawURL, " \t\r\n;|&`$") {
		return fmt.Errorf("repository URL contains invalid characters")
	}

	if filepath.IsAbs(rawURL) {
		return nil
	}
	if scpURLPattern.MatchString(rawURL) {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if !allowedSchemes[u.Scheme] {
		return fmt.Errorf("unsupported repository URL scheme %q", u.Scheme)
	}
	if u.Scheme != "file" && u.Host == "" {
		return fmt.Errorf("repository URL has no host")
	}
	return nil
}

// ValidateBranchName ensures branch name is safe for git operations.
// Prevents command injection through branch names.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if strings.Contains(branch, "..") {
		return fmt.Errorf("branch name cannot contain '..'")
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters")
	}
	return nil
}

// ValidateProjectName ensures project name is safe for use in paths.
func ValidateProjectName(name string) error {
	if name == "" {
		return fmt.Errorf("project name cannot be empty")
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("project name cannot start with '-' or '.'")
	}
	if !projectPattern.MatchString(name) {
		return fmt.Errorf("project name contains invalid characters (only a-z, A-Z, 0-9, _, -, . allowed)")
	}
	return nil
}

// ValidateComposeFilename ensures a configured compose file is a plain
// YAML file name inside its stack directory.
func ValidateComposeFilename(name string) error {
	if name == "" {
		return fmt.Errorf("compose file name cannot be empty")
	}
	if strings.HasPrefix(name, "-") {
		return fmt.Errorf("compose file name cannot start with '-'")
	}
	if !composePattern.MatchString(name) {
		return fmt.Errorf("compose file %q must be a .yml or .yaml file name without directories", name)
	}
	return nil
}

// ContainedPath joins rel onto base and ensures the result stays within base.
// The paths do not need to exist.
func ContainedPath(basePath, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path must be relative: %s", rel)
	}

	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}

	target := filepath.Join(absBase, rel)
	relPath, err := filepath.Rel(absBase, target)
	if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: '%s' is outside '%s'", rel, absBase)
	}

	return target, nil
}
