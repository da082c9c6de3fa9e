package project

import (
	"strings"
	"time"
)

// DefaultBranch is used when a project does not name one.
const DefaultBranch = "main"

// StackSpec is one explicitly configured stack. Dir is relative to the
// working copy; an empty Compose means "probe the canonical file names".
type StackSpec struct {
	Dir     string `yaml:"dir"`
	Compose string `yaml:"compose"`
}

// Project represents a validated deployment project configuration
type Project struct {
	Name    string
	RepoURL string
	Branch  string
	Path    string
	Stacks  []StackSpec
}

// ProjectConfig represents the YAML configuration for a project
type ProjectConfig struct {
	Name    string      `yaml:"name"`
	RepoURL string      `yaml:"repo_url"`
	Branch  string      `yaml:"branch"`
	Path    string      `yaml:"path"`
	Stacks  []StackSpec `yaml:"stacks"`
}

// EmailConfig describes how to reach an SMTP relay.
type EmailConfig struct {
	Enabled  bool
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	To       []string
	StartTLS bool
}

// NotifyConfig holds the notification channel settings.
type NotifyConfig struct {
	DiscordWebhook string
	Email          EmailConfig
}

// Document is the raw configuration document. Pointer fields distinguish
// "absent" from "zero" so environment defaults apply only to absent keys.
type Document struct {
	PollIntervalSeconds *int            `yaml:"poll_interval_seconds"`
	Notify              *NotifyDocument `yaml:"notify"`
	Projects            []ProjectConfig `yaml:"projects"`
}

// NotifyDocument is the notify section of the document.
type NotifyDocument struct {
	DiscordWebhook *string        `yaml:"discord_webhook"`
	Email          *EmailDocument `yaml:"email"`
}

// EmailDocument is the notify.email section of the document.
type EmailDocument struct {
	Enabled  bool   `yaml:"enabled"`
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	StartTLS *bool  `yaml:"starttls"`
}

// Config is the fully resolved watcher configuration.
type Config struct {
	Settings

	// Path is the configuration document that was loaded, empty in
	// implicit single-project mode.
	Path     string
	Implicit bool
	Registry *Registry
}

// SplitCSV splits a comma separated list, dropping empty entries.
func SplitCSV(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
