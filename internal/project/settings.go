package project

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"deploywatch/pkg/fileutil"
)

// Environment defaults.
const (
	DefaultBaseDir             = "~/.homelab"
	DefaultPollInterval        = 20
	DefaultEngineReadyTimeout  = 120
	DefaultComposeTimeout      = 300
	DefaultDiscoveryDepth      = 2
	DefaultSMTPPort            = 587
	DefaultEmailFrom           = "homelab-watcher@local"
	DefaultImplicitProjectName = "project"
	ConfigFileName             = "watcher.yml"
	HistoryDisabled            = "off"
)

// Settings are the process-level options read from the environment.
type Settings struct {
	BaseDir    string
	EnvFile    string
	ConfigPath string

	PollInterval       time.Duration
	EngineReadyTimeout time.Duration
	ComposeTimeout     time.Duration
	DiscoveryDepth     int

	LogSteps  bool
	LogFormat string
	LogFile   string

	ComposeCommand string
	EngineProbe    string
	HistoryDB      string
	TemplateDir    string

	Notify NotifyConfig

	// Implicit is the single project used when the document configures none.
	Implicit ProjectConfig
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("homelab_base_dir", DefaultBaseDir)
	v.SetDefault("poll_interval_seconds", DefaultPollInterval)
	v.SetDefault("docker_ready_timeout", DefaultEngineReadyTimeout)
	v.SetDefault("compose_timeout", DefaultComposeTimeout)
	v.SetDefault("discovery_depth", DefaultDiscoveryDepth)
	v.SetDefault("log_steps", "false")
	v.SetDefault("log_format", "text")
	v.SetDefault("engine_probe", "cli")
	v.SetDefault("email_enabled", "false")
	v.SetDefault("email_smtp_port", DefaultSMTPPort)
	v.SetDefault("email_from", DefaultEmailFrom)
	v.SetDefault("email_starttls", "true")
	v.SetDefault("project_name", DefaultImplicitProjectName)
	v.SetDefault("branch", DefaultBranch)

	return v
}

// LoadSettings reads settings from the environment after loading the
// dotenv file. Variables already present in the environment win over the
// dotenv file.
func LoadSettings() (*Settings, error) {
	v := newViper()

	s := &Settings{}
	s.BaseDir = absPath(fileutil.ExpandHome(v.GetString("homelab_base_dir")))

	s.EnvFile = v.GetString("homelab_env_file")
	if s.EnvFile == "" {
		s.EnvFile = filepath.Join(s.BaseDir, ".env")
	}
	if err := LoadEnvFile(fileutil.ExpandHome(s.EnvFile)); err != nil {
		return nil, err
	}

	var problems []string
	positive := func(key string) int {
		n := v.GetInt(key)
		if n <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be a positive integer, got %q", strings.ToUpper(key), v.GetString(key)))
		}
		return n
	}

	if p := v.GetString("homelab_config"); p != "" {
		s.ConfigPath = absPath(fileutil.ExpandHome(p))
	}

	s.PollInterval = seconds(positive("poll_interval_seconds"))
	s.EngineReadyTimeout = seconds(positive("docker_ready_timeout"))
	s.ComposeTimeout = seconds(positive("compose_timeout"))

	s.DiscoveryDepth = v.GetInt("discovery_depth")
	if s.DiscoveryDepth < 0 {
		problems = append(problems, fmt.Sprintf("DISCOVERY_DEPTH must not be negative, got %d", s.DiscoveryDepth))
	}

	s.LogSteps = ParseBool(v.GetString("log_steps"))
	s.LogFormat = strings.ToLower(v.GetString("log_format"))
	if s.LogFormat != "text" && s.LogFormat != "json" {
		problems = append(problems, fmt.Sprintf("LOG_FORMAT must be text or json, got %q", s.LogFormat))
	}
	if p := v.GetString("log_file"); p != "" {
		s.LogFile = absPath(fileutil.ExpandHome(p))
	}

	s.ComposeCommand = v.GetString("compose_command")
	s.EngineProbe = strings.ToLower(v.GetString("engine_probe"))
	if s.EngineProbe != "cli" && s.EngineProbe != "api" {
		problems = append(problems, fmt.Sprintf("ENGINE_PROBE must be cli or api, got %q", s.EngineProbe))
	}

	s.HistoryDB = v.GetString("history_db")
	switch {
	case s.HistoryDB == "":
		s.HistoryDB = filepath.Join(s.BaseDir, "history.db")
	case strings.EqualFold(s.HistoryDB, HistoryDisabled):
		s.HistoryDB = ""
	default:
		s.HistoryDB = absPath(fileutil.ExpandHome(s.HistoryDB))
	}
	s.TemplateDir = filepath.Join(s.BaseDir, "templates")

	s.Notify = NotifyConfig{
		DiscordWebhook: v.GetString("discord_webhook"),
		Email: EmailConfig{
			Enabled:  ParseBool(v.GetString("email_enabled")),
			SMTPHost: v.GetString("email_smtp_host"),
			SMTPPort: v.GetInt("email_smtp_port"),
			Username: v.GetString("email_username"),
			Password: v.GetString("email_password"),
			From:     v.GetString("email_from"),
			To:       SplitCSV(v.GetString("email_to")),
			StartTLS: ParseBool(v.GetString("email_starttls")),
		},
	}

	s.Implicit = ProjectConfig{
		Name:    v.GetString("project_name"),
		RepoURL: v.GetString("repo_url"),
		Branch:  v.GetString("branch"),
		Path:    v.GetString("worktree_path"),
	}

	if len(problems) > 0 {
		return nil, &ConfigurationError{Problems: problems}
	}
	return s, nil
}

// LoadEnvFile loads KEY=value pairs into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return configError("failed to load env file %s: %v", path, err)
	}
	return nil
}

// ParseBool reports whether s is one of true, 1, yes or on.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
