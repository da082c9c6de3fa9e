package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"deploywatch/internal/history"
	"deploywatch/internal/project"
	"deploywatch/pkg/fileutil"
	"deploywatch/pkg/templates"
)

var (
	historyLimit  int
	historyStatus bool
)

var historyCmd = &cobra.Command{
	Use:   "history [PROJECT]",
	Short: "Show recent deployments",
	Long: `Show the most recent deployments recorded by the watcher, optionally for a
single project. With --status, show only the latest deployment of each project.

The history database is HISTORY_DB (default <base>/history.db).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of deployments to show")
	historyCmd.Flags().BoolVar(&historyStatus, "status", false, "Show the latest deployment of every project")
}

func runHistory(cmd *cobra.Command, args []string) error {
	settings, err := project.LoadSettings()
	if err != nil {
		return err
	}
	if settings.HistoryDB == "" {
		return errors.New("deployment history is disabled (HISTORY_DB=off)")
	}
	if !fileutil.FileExists(settings.HistoryDB) {
		fmt.Fprintf(cmd.OutOrStdout(), "No deployments recorded yet (%s)\n", settings.HistoryDB)
		return nil
	}
	if historyLimit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", historyLimit)
	}

	hist, err := history.NewHistory(settings.HistoryDB)
	if err != nil {
		return err
	}
	defer hist.Close()

	ctx := cmd.Context()
	var records []history.DeploymentRecord
	switch {
	case historyStatus:
		latest, err := hist.GetAllProjectsStatus(ctx)
		if err != nil {
			return err
		}
		for _, r := range latest {
			records = append(records, *r)
		}
		sortByProject(records)
	case len(args) == 1:
		warnUnknownProject(cmd, args[0])
		records, err = hist.GetDeploymentHistory(ctx, args[0], historyLimit)
	default:
		records, err = hist.GetRecentDeployments(ctx, historyLimit)
	}
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No deployments recorded yet")
		return nil
	}

	renderHistory(cmd, records)
	return nil
}

// warnUnknownProject notes a project the current configuration does not
// define. Its history is still shown: the project may have been removed.
func warnUnknownProject(cmd *cobra.Command, name string) {
	cfg, err := loadConfig("")
	if err != nil {
		return
	}
	if _, err := cfg.Registry.Get(name); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Note: %v in the current configuration (known: %s)\n",
			err, strings.Join(cfg.Registry.List(), ", "))
	}
}

func renderHistory(cmd *cobra.Command, records []history.DeploymentRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"WHEN", "PROJECT", "BRANCH", "STATUS", "COMMIT", "WAS", "STACKS", "DURATION", "ERROR"})

	for _, r := range records {
		duration := "-"
		if r.DurationSeconds != nil {
			duration = (time.Duration(*r.DurationSeconds * float64(time.Second))).Round(time.Second).String()
		}
		errMsg := ""
		if r.ErrorMessage != nil {
			errMsg = firstLine(*r.ErrorMessage, 60)
		}
		t.AppendRow(table.Row{
			humanize.Time(r.StartedAt),
			r.Project,
			r.Branch,
			r.Status,
			templates.ShortCommit(r.CommitHash),
			templates.ShortCommit(r.PreviousCommit),
			r.Stacks,
			duration,
			errMsg,
		})
	}
	t.Render()
}

func sortByProject(records []history.DeploymentRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Project < records[j].Project
	})
}

func firstLine(s string, max int) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	if len(line) > max {
		return line[:max-3] + "..."
	}
	return line
}
