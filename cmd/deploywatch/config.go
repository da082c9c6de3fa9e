package main

import (
	"context"
	"fmt"
	"log/slog"

	"deploywatch/internal/engine"
	"deploywatch/internal/project"
	"deploywatch/pkg/cmdutil"
)

// loadConfig reads the environment settings and the watcher document named
// by arg (or found by the usual search).
func loadConfig(arg string) (*project.Config, error) {
	settings, err := project.LoadSettings()
	if err != nil {
		return nil, err
	}

	configPath, err := project.ResolveConfigPath(arg, settings)
	if err != nil {
		return nil, err
	}

	return project.LoadConfig(configPath, settings)
}

// newProbe returns the engine probe selected by ENGINE_PROBE and a function
// releasing it.
func newProbe(s *project.Settings, runner cmdutil.Runner) (engine.Probe, func(), error) {
	if s.EngineProbe == "api" {
		probe, err := engine.NewAPIProbe()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create docker API client: %w", err)
		}
		return probe, func() { probe.Close() }, nil
	}
	return engine.NewCLIProbe(runner), func() {}, nil
}

func describeSource(ctx context.Context, logger *slog.Logger, cfg *project.Config) {
	if cfg.Implicit {
		logger.InfoContext(ctx, "No watcher document found, using implicit project from the environment",
			"project", cfg.Registry.List()[0])
		return
	}
	logger.InfoContext(ctx, "Loaded configuration", "config", cfg.Path, "projects", cfg.Registry.Count())
}
