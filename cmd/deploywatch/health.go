package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"deploywatch/internal/project"
	"deploywatch/pkg/cmdutil"
)

var healthTimeout time.Duration

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the container engine answers",
	Long: `Probe the container engine once and exit 0 when it is ready, 1 otherwise.

Intended for container health checks. The probe follows ENGINE_PROBE
(cli runs "docker info", api pings the Docker API socket).`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 10*time.Second, "Maximum time to wait for the engine")
}

func runHealth(cmd *cobra.Command, args []string) error {
	settings, err := project.LoadSettings()
	if err != nil {
		return err
	}

	runner := cmdutil.NewExecRunner(slog.New(slog.NewTextHandler(io.Discard, nil)))
	probe, closeProbe, err := newProbe(settings, runner)
	if err != nil {
		return err
	}
	defer closeProbe()

	ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
	defer cancel()

	if err := probe.Ping(ctx); err != nil {
		return fmt.Errorf("container engine not ready: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}
