package project

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"deploywatch/internal/security"
	"deploywatch/pkg/fileutil"
)

// ResolveConfigPath picks the configuration document to load.
// An explicit argument, or HOMELAB_CONFIG when set, must exist. Otherwise
// the default search paths are tried; an empty result means implicit
// single-project mode.
func ResolveConfigPath(arg string, s *Settings) (string, error) {
	if arg != "" {
		path := absPath(fileutil.ExpandHome(arg))
		if !fileutil.FileExists(path) {
			return "", configError("config not found: %s", path)
		}
		return path, nil
	}

	if s.ConfigPath != "" {
		if !fileutil.FileExists(s.ConfigPath) {
			return "", configError("config not found: %s (HOMELAB_CONFIG)", s.ConfigPath)
		}
		return s.ConfigPath, nil
	}
	return fileutil.SearchPathsOptional(fileutil.DefaultConfigPaths(s.BaseDir, ConfigFileName)), nil
}

// LoadConfig loads the configuration document at configPath on top of the
// environment settings. An empty configPath, or a document without
// projects, yields implicit single-project mode. Project fields are not
// validated here; see Validate.
func LoadConfig(configPath string, s *Settings) (*Config, error) {
	cfg := &Config{Settings: *s, Path: configPath}

	var doc Document
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, configError("failed to read config file: %v", err)
		}
		if err := decodeDocument(data, &doc); err != nil {
			return nil, err
		}
	}

	if doc.PollIntervalSeconds != nil {
		if *doc.PollIntervalSeconds <= 0 {
			return nil, configError("poll_interval_seconds must be a positive integer, got %d", *doc.PollIntervalSeconds)
		}
		cfg.PollInterval = seconds(*doc.PollIntervalSeconds)
	}

	if doc.Notify != nil {
		if doc.Notify.DiscordWebhook != nil {
			cfg.Notify.DiscordWebhook = *doc.Notify.DiscordWebhook
		}
		if doc.Notify.Email != nil {
			cfg.Notify.Email = emailFromDocument(doc.Notify.Email)
		}
	}

	configs := doc.Projects
	if len(configs) == 0 {
		cfg.Implicit = true
		configs = []ProjectConfig{s.Implicit}
	}

	projects := make([]*Project, 0, len(configs))
	for _, pc := range configs {
		p, err := newProject(pc, s.BaseDir)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	cfg.Registry = NewRegistry(projects)

	return cfg, nil
}

func decodeDocument(data []byte, doc *Document) error {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return configError("failed to parse YAML config: %v", err)
	}
	// Empty file
	if root.Kind == 0 {
		return nil
	}

	if err := Interpolate(&root, nil); err != nil {
		return err
	}

	if err := root.Decode(doc); err != nil {
		return configError("failed to decode YAML config: %v", err)
	}
	return nil
}

// DecodeStrict reports unknown keys in the document. It is used by the
// check command; the watcher itself tolerates unknown keys.
func DecodeStrict(data []byte) error {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return configError("failed to parse YAML config: %v", err)
	}
	if root.Kind == 0 {
		return nil
	}
	if err := Interpolate(&root, nil); err != nil {
		return err
	}
	out, err := yaml.Marshal(&root)
	if err != nil {
		return configError("failed to re-encode YAML config: %v", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(out))
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return configError("%v", err)
	}
	return nil
}

func emailFromDocument(d *EmailDocument) EmailConfig {
	email := EmailConfig{
		Enabled:  d.Enabled,
		SMTPHost: d.SMTPHost,
		SMTPPort: d.SMTPPort,
		Username: d.Username,
		Password: d.Password,
		From:     d.From,
		To:       SplitCSV(d.To),
		StartTLS: true,
	}
	if email.SMTPPort == 0 {
		email.SMTPPort = DefaultSMTPPort
	}
	if email.From == "" {
		email.From = DefaultEmailFrom
	}
	if d.StartTLS != nil {
		email.StartTLS = *d.StartTLS
	}
	return email
}

func newProject(pc ProjectConfig, baseDir string) (*Project, error) {
	branch := pc.Branch
	if branch == "" {
		branch = DefaultBranch
	}

	path := pc.Path
	if path == "" && pc.Name != "" {
		path = filepath.Join(baseDir, "worktrees", pc.Name)
	}
	if path != "" {
		path = fileutil.ExpandHome(path)
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, configError("project '%s': cannot resolve path '%s': %v", pc.Name, pc.Path, err)
		}
		path = abs
	}

	stacks := make([]StackSpec, 0, len(pc.Stacks))
	for _, st := range pc.Stacks {
		if st.Dir == "" {
			st.Dir = "."
		}
		stacks = append(stacks, st)
	}

	return &Project{
		Name:    pc.Name,
		RepoURL: pc.RepoURL,
		Branch:  branch,
		Path:    path,
		Stacks:  stacks,
	}, nil
}

// Validate checks every project and reports all problems at once as a
// *ConfigurationError.
func Validate(projects []*Project) error {
	var problems []string
	names := make(map[string]bool)
	paths := make(map[string]string)

	for i, p := range projects {
		label := p.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
			problems = append(problems, fmt.Sprintf("project %s: missing required 'name' field", label))
		} else if err := security.ValidateProjectName(p.Name); err != nil {
			problems = append(problems, fmt.Sprintf("project '%s': %v", label, err))
		} else if names[p.Name] {
			problems = append(problems, fmt.Sprintf("project '%s': duplicate project name", label))
		}
		names[p.Name] = true

		if p.RepoURL == "" {
			problems = append(problems, fmt.Sprintf("project '%s': missing required 'repo_url' field", label))
		} else if err := security.ValidateRepoURL(p.RepoURL); err != nil {
			problems = append(problems, fmt.Sprintf("project '%s': %v", label, err))
		}

		if err := security.ValidateBranchName(p.Branch); err != nil {
			problems = append(problems, fmt.Sprintf("project '%s': %v", label, err))
		}

		if p.Path == "" {
			problems = append(problems, fmt.Sprintf("project '%s': missing required 'path' field", label))
		} else {
			clean := filepath.Clean(p.Path)
			if other, dup := paths[clean]; dup {
				problems = append(problems, fmt.Sprintf("project '%s': path '%s' is already used by project '%s'", label, clean, other))
			} else {
				paths[clean] = label
			}

			for j, st := range p.Stacks {
				if _, err := security.ContainedPath(p.Path, st.Dir); err != nil {
					problems = append(problems, fmt.Sprintf("project '%s': stacks[%d]: %v", label, j, err))
				}
				if st.Compose != "" {
					if err := security.ValidateComposeFilename(st.Compose); err != nil {
						problems = append(problems, fmt.Sprintf("project '%s': stacks[%d]: %v", label, j, err))
					}
				}
			}
		}
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}
