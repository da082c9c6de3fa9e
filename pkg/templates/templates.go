package templates

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"
)

// Template names
const (
	Started    = "started"
	Deployed   = "deployed"
	Failed     = "failed"
	EngineDown = "engine-down"
)

// TimeLayout is the timestamp format used in rendered messages.
const TimeLayout = "2006-01-02 15:04:05"

//go:embed messages/*.tmpl
var builtin embed.FS

// MessageData holds variables for message rendering.
type MessageData struct {
	Host           string
	Time           string
	Project        string
	Branch         string
	Commit         string
	PreviousCommit string
	Stacks         []string
	Error          string
}

// NewMessageData returns data stamped with the host name and the given time.
func NewMessageData(now time.Time) MessageData {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return MessageData{Host: host, Time: now.Format(TimeLayout)}
}

var funcs = template.FuncMap{
	"short": ShortCommit,
	"join":  strings.Join,
}

// ShortCommit abbreviates a commit hash to seven characters.
// An empty hash renders as "unknown".
func ShortCommit(hash string) string {
	if hash == "" {
		return "unknown"
	}
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

// GetTemplatePaths returns the override search paths for a template.
func GetTemplatePaths(templateName string, dirs ...string) []string {
	filename := templateName + ".tmpl"
	paths := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		paths = append(paths, filepath.Join(dir, filename))
	}
	return paths
}

// GetTemplate returns the raw template content by name.
// Override directories are searched in order; the built-in template is used
// when none of them has a <name>.tmpl file.
func GetTemplate(name string, dirs ...string) (string, error) {
	if !ValidateTemplate(name) {
		return "", fmt.Errorf("unknown template: %s", name)
	}

	for _, path := range GetTemplatePaths(name, dirs...) {
		if content, err := os.ReadFile(path); err == nil {
			return string(content), nil
		}
	}

	content, err := builtin.ReadFile("messages/" + name + ".tmpl")
	if err != nil {
		return "", fmt.Errorf("template not found: %s: %w", name, err)
	}
	return string(content), nil
}

// Renderer renders notification messages, preferring templates found in
// its override directories.
type Renderer struct {
	Dirs []string
}

// Render renders a message template. The first line of the output is the
// subject, the rest is the body. A template with a single line uses it
// for both.
func (r *Renderer) Render(name string, data MessageData) (subject, body string, err error) {
	var dirs []string
	if r != nil {
		dirs = r.Dirs
	}

	content, err := GetTemplate(name, dirs...)
	if err != nil {
		return "", "", err
	}

	tmpl, err := template.New(name).Funcs(funcs).Parse(content)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	rendered := strings.TrimSpace(buf.String())
	subject, body, found := strings.Cut(rendered, "\n")
	if !found {
		return subject, subject, nil
	}
	return strings.TrimSpace(subject), strings.TrimSpace(body), nil
}

// ListTemplates returns a list of all available template names.
func ListTemplates() []string {
	return []string{
		Started,
		Deployed,
		Failed,
		EngineDown,
	}
}

// ValidateTemplate checks if a template name is valid.
func ValidateTemplate(name string) bool {
	validNames := map[string]bool{
		Started:    true,
		Deployed:   true,
		Failed:     true,
		EngineDown: true,
	}
	return validNames[name]
}
