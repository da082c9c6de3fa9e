package deployment

import (
	"context"
	"os/exec"
	"strings"

	"deploywatch/pkg/cmdutil"
)

// Compose command prefixes.
var (
	ComposePlugin = []string{"docker", "compose"}
	ComposeLegacy = []string{"docker-compose"}
)

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// DetectComposeCommand picks the compose command available on this host.
// The docker CLI plugin is preferred; the standalone docker-compose binary
// is used when the plugin is missing. When neither is found the plugin form
// is returned so the failure surfaces on the first deploy.
func DetectComposeCommand(ctx context.Context, runner cmdutil.Runner) []string {
	out, err := runner.Run(ctx, "", true, append(clone(ComposePlugin), "version")...)
	if err == nil && strings.TrimSpace(out) != "" {
		return clone(ComposePlugin)
	}
	if _, err := lookPath(ComposeLegacy[0]); err == nil {
		return clone(ComposeLegacy)
	}
	return clone(ComposePlugin)
}

// ParseComposeCommand parses an operator-supplied compose command such as
// "docker compose" or "/usr/local/bin/docker-compose --ansi never". A blank
// value returns nil, leaving the choice to DetectComposeCommand.
func ParseComposeCommand(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return cmdutil.ParseCommandString(s)
}

func clone(args []string) []string {
	return append([]string(nil), args...)
}
