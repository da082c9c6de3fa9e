package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"deploywatch/internal/notify"
	"deploywatch/internal/project"
	"deploywatch/internal/security"
	"deploywatch/internal/stack"
	"deploywatch/pkg/fileutil"
	"deploywatch/pkg/templates"
)

var checkCmd = &cobra.Command{
	Use:   "check [CONFIG]",
	Short: "Validate the configuration and show what would be deployed",
	Long: `Load and validate the watcher configuration, then list every project with
the stacks it would deploy from its working copy right now.

Exits with status 2 when the configuration is invalid.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	var arg string
	if len(args) > 0 {
		arg = args[0]
	}

	cfg, err := loadConfig(arg)
	if err != nil {
		return err
	}
	if err := project.Validate(cfg.Registry.All()); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cfg.Implicit {
		fmt.Fprintln(out, "Configuration: implicit single project (environment)")
	} else {
		fmt.Fprintf(out, "Configuration: %s\n", cfg.Path)
	}
	fmt.Fprintf(out, "Poll interval: %s\n", cfg.PollInterval)

	channels := notify.FromConfig(cfg.Notify, nil).Channels()
	if len(channels) == 0 {
		channels = []string{"none"}
	}
	fmt.Fprintf(out, "Notifications: %s\n", strings.Join(channels, ", "))

	checkPermissions(out, cfg)

	if err := checkTemplates(out, cfg.TemplateDir); err != nil {
		return err
	}
	fmt.Fprintln(out)

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"PROJECT", "BRANCH", "PATH", "STACKS"})
	for _, p := range cfg.Registry.All() {
		t.AppendRow(table.Row{p.Name, p.Branch, p.Path, describeStacks(p, cfg.DiscoveryDepth)})
	}
	t.Render()

	return nil
}

// checkPermissions warns about credential-bearing files others can read.
func checkPermissions(out io.Writer, cfg *project.Config) {
	var files []string
	if !cfg.Implicit {
		files = append(files, cfg.Path)
	}
	if envFile := fileutil.ExpandHome(cfg.EnvFile); fileutil.FileExists(envFile) {
		files = append(files, envFile)
	}

	for _, f := range files {
		if err := security.ValidateSecurePermissions(f); err != nil {
			fmt.Fprintf(out, "Warning: %v (chmod %04o %s)\n", err, security.PermConfigFile, f)
		}
	}
}

func describeStacks(p *project.Project, depth int) string {
	if !fileutil.DirExists(p.Path) {
		return "(not cloned yet)"
	}

	stacks, err := stack.Locate(p, depth)
	if err != nil {
		return fmt.Sprintf("(error: %v)", err)
	}
	if len(stacks) == 0 {
		return "(none found)"
	}

	names := make([]string, 0, len(stacks))
	for _, s := range stacks {
		name, err := filepath.Rel(p.Path, s.Path())
		if err != nil {
			name = s.Path()
		}
		names = append(names, name)
	}
	return strings.Join(names, "\n")
}

// checkTemplates renders every overridden message template with sample data
// so a broken override is caught before the watcher needs it.
func checkTemplates(out io.Writer, dir string) error {
	renderer := &templates.Renderer{Dirs: []string{dir}}
	sample := templates.NewMessageData(time.Now())
	sample.Project = "example"
	sample.Branch = "main"

	var problems []string
	for _, name := range templates.ListTemplates() {
		for _, path := range templates.GetTemplatePaths(name, dir) {
			if !fileutil.FileExists(path) {
				continue
			}
			if _, _, err := renderer.Render(name, sample); err != nil {
				problems = append(problems, fmt.Sprintf("template %s: %v", path, err))
				continue
			}
			fmt.Fprintf(out, "Template override: %s\n", path)
		}
	}

	if len(problems) > 0 {
		return &project.ConfigurationError{Problems: problems}
	}
	return nil
}
