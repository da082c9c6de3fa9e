package project

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testSettings(t *testing.T) *Settings {
	t.Helper()
	base := t.TempDir()
	return &Settings{
		BaseDir:            base,
		PollInterval:       20 * time.Second,
		EngineReadyTimeout: 120 * time.Second,
		ComposeTimeout:     300 * time.Second,
		DiscoveryDepth:     2,
		LogFormat:          "text",
		EngineProbe:        "cli",
		Notify: NotifyConfig{
			DiscordWebhook: "https://discord.example/env",
			Email: EmailConfig{
				SMTPPort: DefaultSMTPPort,
				From:     DefaultEmailFrom,
				StartTLS: true,
			},
		},
		Implicit: ProjectConfig{
			Name:    DefaultImplicitProjectName,
			RepoURL: "https://git.example/implicit.git",
			Branch:  DefaultBranch,
		},
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watcher.yml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_Document(t *testing.T) {
	t.Setenv("DW_TEST_SMTP_USER", "mailer")
	t.Setenv("DW_TEST_SMTP_PORT", "2525")
	t.Setenv("DW_TEST_ORG", "me")

	s := testSettings(t)
	path := writeConfig(t, `
poll_interval_seconds: 45
notify:
  discord_webhook: https://discord.example/doc
  email:
    enabled: true
    smtp_host: smtp.example.com
    smtp_port: ${DW_TEST_SMTP_PORT}
    username: ${DW_TEST_SMTP_USER}
    password: ${DW_TEST_SMTP_PASS:-}
    to: ops@example.com, me@example.com
    starttls: false
projects:
  - name: homelab
    repo_url: git@github.com:${DW_TEST_ORG}/homelab.git
    path: /srv/homelab
    stacks:
      - dir: media
        compose: docker-compose.yml
      - dir: ""
  - name: blog
    repo_url: https://git.example/${DW_TEST_ORG}/blog.git
    branch: production
`)

	cfg, err := LoadConfig(path, s)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Implicit {
		t.Error("Implicit = true, want false when projects are configured")
	}
	if cfg.PollInterval != 45*time.Second {
		t.Errorf("PollInterval = %v, want 45s", cfg.PollInterval)
	}
	if cfg.Notify.DiscordWebhook != "https://discord.example/doc" {
		t.Errorf("DiscordWebhook = %q, want document value", cfg.Notify.DiscordWebhook)
	}

	email := cfg.Notify.Email
	if !email.Enabled || email.SMTPHost != "smtp.example.com" || email.SMTPPort != 2525 {
		t.Errorf("email = %+v", email)
	}
	if email.Username != "mailer" || email.Password != "" {
		t.Errorf("email credentials = %q/%q", email.Username, email.Password)
	}
	if email.From != DefaultEmailFrom {
		t.Errorf("From = %q, want default", email.From)
	}
	if email.StartTLS {
		t.Error("StartTLS = true, want false from document")
	}
	if len(email.To) != 2 || email.To[1] != "me@example.com" {
		t.Errorf("To = %v", email.To)
	}

	if cfg.Registry.Count() != 2 {
		t.Fatalf("got %d projects, want 2", cfg.Registry.Count())
	}

	home := cfg.Registry.All()[0]
	if home.Name != "homelab" || home.RepoURL != "git@github.com:me/homelab.git" {
		t.Errorf("project[0] = %+v", home)
	}
	if home.Branch != DefaultBranch {
		t.Errorf("Branch = %q, want default %q", home.Branch, DefaultBranch)
	}
	if home.Path != "/srv/homelab" {
		t.Errorf("Path = %q", home.Path)
	}
	if len(home.Stacks) != 2 || home.Stacks[0].Dir != "media" || home.Stacks[1].Dir != "." {
		t.Errorf("Stacks = %+v", home.Stacks)
	}

	blog := cfg.Registry.All()[1]
	if blog.Branch != "production" {
		t.Errorf("Branch = %q, want production", blog.Branch)
	}
	wantPath := filepath.Join(s.BaseDir, "worktrees", "blog")
	if blog.Path != wantPath {
		t.Errorf("Path = %q, want default %q", blog.Path, wantPath)
	}
}

func TestLoadConfig_EnvironmentDefaults(t *testing.T) {
	s := testSettings(t)
	path := writeConfig(t, `
projects:
  - name: homelab
    repo_url: https://git.example/homelab.git
`)

	cfg, err := LoadConfig(path, s)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.PollInterval != s.PollInterval {
		t.Errorf("PollInterval = %v, want environment value %v", cfg.PollInterval, s.PollInterval)
	}
	if cfg.Notify.DiscordWebhook != "https://discord.example/env" {
		t.Errorf("DiscordWebhook = %q, want environment value", cfg.Notify.DiscordWebhook)
	}
	if cfg.Path != path {
		t.Errorf("Path = %q, want %q", cfg.Path, path)
	}
}

func TestLoadConfig_EmailDefaults(t *testing.T) {
	s := testSettings(t)
	path := writeConfig(t, `
notify:
  discord_webhook: ""
  email:
    enabled: true
    smtp_host: smtp.example.com
    to: ops@example.com
projects:
  - name: homelab
    repo_url: https://git.example/homelab.git
`)

	cfg, err := LoadConfig(path, s)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Notify.DiscordWebhook != "" {
		t.Errorf("DiscordWebhook = %q, an explicit empty value should win", cfg.Notify.DiscordWebhook)
	}
	email := cfg.Notify.Email
	if email.SMTPPort != DefaultSMTPPort || !email.StartTLS || email.From != DefaultEmailFrom {
		t.Errorf("email defaults not applied: %+v", email)
	}
}

func TestLoadConfig_Implicit(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no config file", ""},
		{"empty file", "\n"},
		{"no projects", "poll_interval_seconds: 10\n"},
		{"empty project list", "projects: []\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings(t)
			path := ""
			if tt.name != "no config file" {
				path = writeConfig(t, tt.content)
			}

			cfg, err := LoadConfig(path, s)
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			if !cfg.Implicit {
				t.Error("Implicit = false, want true")
			}
			if cfg.Registry.Count() != 1 {
				t.Fatalf("got %d projects, want 1", cfg.Registry.Count())
			}
			p := cfg.Registry.All()[0]
			if p.Name != DefaultImplicitProjectName || p.RepoURL != "https://git.example/implicit.git" {
				t.Errorf("implicit project = %+v", p)
			}
			if p.Path != filepath.Join(s.BaseDir, "worktrees", DefaultImplicitProjectName) {
				t.Errorf("implicit Path = %q", p.Path)
			}
		})
	}
}

func TestLoadConfig_UnresolvedVariables(t *testing.T) {
	s := testSettings(t)
	path := writeConfig(t, `
notify:
  discord_webhook: ${DW_TEST_UNSET_WEBHOOK}
projects:
  - name: homelab
    repo_url: https://${DW_TEST_UNSET_HOST}/homelab.git
`)

	_, err := LoadConfig(path, s)
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("LoadConfig() error = %v, want *ConfigurationError", err)
	}
	if len(cfgErr.Problems) != 2 {
		t.Errorf("Problems = %v, want both variables reported", cfgErr.Problems)
	}
	if !strings.Contains(err.Error(), "DW_TEST_UNSET_HOST") {
		t.Errorf("error %q should name the variable", err)
	}
}

func TestLoadConfig_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid yaml", "projects: [\n"},
		{"wrong shape", "projects: homelab\n"},
		{"non-positive poll interval", "poll_interval_seconds: 0\n"},
		{"quoted port", "notify:\n  email:\n    smtp_port: \"abc\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content), testSettings(t))
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Errorf("LoadConfig() error = %v, want *ConfigurationError", err)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"), testSettings(t))
	if err == nil {
		t.Fatal("LoadConfig() should fail for a missing file")
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Run("explicit argument", func(t *testing.T) {
		s := testSettings(t)
		path := writeConfig(t, "projects: []\n")
		got, err := ResolveConfigPath(path, s)
		if err != nil || got != path {
			t.Errorf("ResolveConfigPath() = %q, %v", got, err)
		}
	})

	t.Run("explicit argument missing", func(t *testing.T) {
		s := testSettings(t)
		_, err := ResolveConfigPath(filepath.Join(s.BaseDir, "nope.yml"), s)
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Errorf("error = %v, want *ConfigurationError", err)
		}
	})

	t.Run("HOMELAB_CONFIG", func(t *testing.T) {
		s := testSettings(t)
		s.ConfigPath = writeConfig(t, "projects: []\n")
		got, err := ResolveConfigPath("", s)
		if err != nil || got != s.ConfigPath {
			t.Errorf("ResolveConfigPath() = %q, %v", got, err)
		}
	})

	t.Run("HOMELAB_CONFIG missing", func(t *testing.T) {
		s := testSettings(t)
		s.ConfigPath = filepath.Join(s.BaseDir, "missing.yml")
		_, err := ResolveConfigPath("", s)
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("error = %v, want *ConfigurationError", err)
		}
		if !strings.Contains(err.Error(), "HOMELAB_CONFIG") {
			t.Errorf("error = %v, want the variable named", err)
		}
	})

	t.Run("base directory default", func(t *testing.T) {
		s := testSettings(t)
		want := filepath.Join(s.BaseDir, ConfigFileName)
		if err := os.WriteFile(want, []byte("projects: []\n"), 0600); err != nil {
			t.Fatalf("Failed to write config: %v", err)
		}
		got, err := ResolveConfigPath("", s)
		if err != nil || got != want {
			t.Errorf("ResolveConfigPath() = %q, %v; want %q", got, err, want)
		}
	})
}

func validProjects() []*Project {
	return []*Project{
		{Name: "homelab", RepoURL: "git@github.com:me/homelab.git", Branch: "main", Path: "/srv/homelab"},
		{Name: "blog", RepoURL: "https://git.example/blog.git", Branch: "main", Path: "/srv/blog",
			Stacks: []StackSpec{{Dir: "web", Compose: "compose.yml"}, {Dir: "."}}},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func([]*Project) []*Project
		wantErr   bool
		wantInErr string
	}{
		{"valid", func(p []*Project) []*Project { return p }, false, ""},
		{"empty repo_url", func(p []*Project) []*Project { p[1].RepoURL = ""; return p }, true, "'blog': missing required 'repo_url'"},
		{"empty path", func(p []*Project) []*Project { p[0].Path = ""; return p }, true, "missing required 'path'"},
		{"empty name", func(p []*Project) []*Project { p[0].Name = ""; return p }, true, "project #1: missing required 'name'"},
		{"duplicate name", func(p []*Project) []*Project { p[1].Name = "homelab"; return p }, true, "duplicate project name"},
		{"duplicate path", func(p []*Project) []*Project { p[1].Path = "/srv/homelab/"; return p }, true, "already used by project 'homelab'"},
		{"bad branch", func(p []*Project) []*Project { p[0].Branch = "-x"; return p }, true, "branch name"},
		{"bad repo url", func(p []*Project) []*Project { p[0].RepoURL = "--upload-pack=x"; return p }, true, "repository URL"},
		{"stack escapes working copy", func(p []*Project) []*Project { p[1].Stacks[0].Dir = "../other"; return p }, true, "stacks[0]"},
		{"bad compose name", func(p []*Project) []*Project { p[1].Stacks[0].Compose = "x/compose.yml"; return p }, true, "stacks[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.mutate(validProjects()))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("error %T is not a *ConfigurationError", err)
			}
			if !strings.Contains(err.Error(), tt.wantInErr) {
				t.Errorf("error %q should contain %q", err, tt.wantInErr)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	projects := validProjects()
	projects[0].RepoURL = ""
	projects[1].RepoURL = ""

	err := Validate(projects)
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(cfgErr.Problems) != 2 {
		t.Errorf("Problems = %v, want one per project", cfgErr.Problems)
	}
}

func TestDecodeStrict(t *testing.T) {
	if err := DecodeStrict([]byte("projects:\n  - name: a\n    repo_url: x\n")); err != nil {
		t.Errorf("DecodeStrict() error = %v", err)
	}
	if err := DecodeStrict([]byte("projects:\n  - name: a\n    repo: x\n")); err == nil {
		t.Error("DecodeStrict() should reject unknown keys")
	}
	if err := DecodeStrict(nil); err != nil {
		t.Errorf("DecodeStrict(empty) error = %v", err)
	}
}

func TestSplitCSV(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a@example.com", []string{"a@example.com"}},
		{" a@example.com, ,b@example.com ,", []string{"a@example.com", "b@example.com"}},
	}

	for _, tt := range tests {
		got := SplitCSV(tt.in)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("SplitCSV(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConfigurationError_Message(t *testing.T) {
	single := &ConfigurationError{Problems: []string{"bad"}}
	if single.Error() != "invalid configuration: bad" {
		t.Errorf("Error() = %q", single.Error())
	}

	multi := &ConfigurationError{Problems: []string{"a", "b"}}
	if multi.Error() != "invalid configuration:\n  - a\n  - b" {
		t.Errorf("Error() = %q", multi.Error())
	}
}
