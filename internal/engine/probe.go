package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/moby/moby/client"

	"deploywatch/pkg/cmdutil"
)

// Probe performs one lightweight readiness check against the container
// engine. A nil error means the engine is usable.
type Probe interface {
	Ping(ctx context.Context) error
}

// Markers that only appear in `docker info` output when the daemon answered.
var infoMarkers = []string{"Server Version", "Storage Driver"}

var errNoServerInfo = errors.New("engine status output has no server section")

// CLIProbe checks readiness by running `docker info`.
type CLIProbe struct {
	runner  cmdutil.Runner
	command []string
}

// NewCLIProbe creates a probe that runs `docker info` through runner.
func NewCLIProbe(runner cmdutil.Runner) *CLIProbe {
	return &CLIProbe{runner: runner, command: []string{"docker", "info"}}
}

// Ping implements Probe.
func (p *CLIProbe) Ping(ctx context.Context) error {
	out, err := p.runner.Run(ctx, "", true, p.command...)
	if err != nil {
		return err
	}
	for _, marker := range infoMarkers {
		if strings.Contains(out, marker) {
			return nil
		}
	}
	return errNoServerInfo
}

// APIProbe checks readiness by pinging the Docker API socket.
type APIProbe struct {
	cli *client.Client
}

// NewAPIProbe creates a probe from the standard DOCKER_* environment.
func NewAPIProbe() (*APIProbe, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &APIProbe{cli: cli}, nil
}

// Ping implements Probe.
func (p *APIProbe) Ping(ctx context.Context) error {
	if _, err := p.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker API ping failed: %w", err)
	}
	return nil
}

// Close releases the client's connections.
func (p *APIProbe) Close() error {
	return p.cli.Close()
}
