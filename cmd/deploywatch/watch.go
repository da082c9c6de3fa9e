package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"deploywatch/internal/deployment"
	"deploywatch/internal/engine"
	"deploywatch/internal/history"
	"deploywatch/internal/mirror"
	"deploywatch/internal/notify"
	"deploywatch/internal/reconcile"
	"deploywatch/pkg/cmdutil"
	"deploywatch/pkg/templates"
)

func runWatch(cmd *cobra.Command, args []string) error {
	var arg string
	if len(args) > 0 {
		arg = args[0]
	}

	cfg, err := loadConfig(arg)
	if err != nil {
		return err
	}

	logger, logCloser, err := setupLogging(&cfg.Settings, cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	describeSource(ctx, logger, cfg)

	runner := cmdutil.NewExecRunner(logger)

	probe, closeProbe, err := newProbe(&cfg.Settings, runner)
	if err != nil {
		return err
	}
	defer closeProbe()

	composeCommand, err := deployment.ParseComposeCommand(cfg.ComposeCommand)
	if err != nil {
		return fmt.Errorf("invalid COMPOSE_COMMAND: %w", err)
	}

	dispatcher := notify.FromConfig(cfg.Notify, logger)
	logger.Debug("Notification channels", "channels", dispatcher.Channels())

	deps := reconcile.Deps{
		Gate:     engine.NewGate(probe, nil, logger),
		Mirror:   mirror.New(runner, logger),
		Deployer: deployment.NewDeployer(runner, nil, logger, composeCommand),
		Notifier: dispatcher,
		Renderer: &templates.Renderer{Dirs: []string{cfg.TemplateDir}},
		Logger:   logger,
	}

	if cfg.HistoryDB != "" {
		hist, err := history.NewHistory(cfg.HistoryDB)
		if err != nil {
			logger.Warn("Deployment history disabled", "db", cfg.HistoryDB, "error", err)
		} else {
			defer hist.Close()
			deps.Recorder = hist
		}
	}

	loop := reconcile.New(cfg.Registry, reconcile.OptionsFromConfig(cfg), deps)
	return loop.Run(ctx)
}
