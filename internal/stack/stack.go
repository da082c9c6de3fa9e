// Package stack resolves the compose stacks a working copy deploys.
package stack

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"deploywatch/internal/project"
	"deploywatch/internal/security"
	"deploywatch/pkg/fileutil"
)

// CanonicalFiles are the compose file names probed, in order.
var CanonicalFiles = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

// Excluded directory names are never descended into during discovery.
var Excluded = map[string]bool{
	".git":         true,
	".github":      true,
	".gitea":       true,
	".vscode":      true,
	"__pycache__":  true,
	"node_modules": true,
}

// Stack is one deployable unit: a directory and the compose file in it.
type Stack struct {
	Dir         string
	ComposeFile string
}

// Path returns the full path of the compose file.
func (s Stack) Path() string {
	return filepath.Join(s.Dir, s.ComposeFile)
}

// FindCompose returns the first canonical compose file present in dir,
// or "" when there is none.
func FindCompose(dir string) string {
	for _, name := range CanonicalFiles {
		if fileutil.FileExists(filepath.Join(dir, name)) {
			return name
		}
	}
	return ""
}

// Resolve turns explicitly configured stacks into Stacks under root.
// Entries without a compose file probe the canonical names. Entries whose
// file does not exist, or that point outside root, are dropped.
func Resolve(root string, specs []project.StackSpec) []Stack {
	var stacks []Stack
	for _, spec := range specs {
		dir, err := security.ContainedPath(root, spec.Dir)
		if err != nil {
			continue
		}

		name := spec.Compose
		if name == "" {
			name = FindCompose(dir)
		}
		if name == "" || !fileutil.FileExists(filepath.Join(dir, name)) {
			continue
		}
		stacks = append(stacks, Stack{Dir: dir, ComposeFile: name})
	}
	return stacks
}

type entry struct {
	dir   string
	depth int
}

// Discover walks root up to maxDepth levels (root is depth 0) and returns
// every directory that directly contains a canonical compose file.
// Qualifying directories are still descended. Results are in depth-first
// pre-order with lexically sorted siblings. Unreadable subdirectories are
// skipped; symlinked directories are not followed.
func Discover(root string, maxDepth int) ([]Stack, error) {
	if _, err := os.ReadDir(root); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	var stacks []Stack
	seen := make(map[string]bool)
	work := []entry{{dir: root, depth: 0}}

	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]

		if name := FindCompose(cur.dir); name != "" && !seen[cur.dir] {
			seen[cur.dir] = true
			stacks = append(stacks, Stack{Dir: cur.dir, ComposeFile: name})
		}

		if cur.depth >= maxDepth {
			continue
		}

		children := subdirectories(cur.dir)
		// Push in reverse so the lexically first child is visited next.
		for i := len(children) - 1; i >= 0; i-- {
			work = append(work, entry{dir: filepath.Join(cur.dir, children[i]), depth: cur.depth + 1})
		}
	}

	return stacks, nil
}

func subdirectories(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var names []string
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink != 0 || !e.IsDir() || Excluded[e.Name()] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// Locate returns the stacks of a project: the explicit list when one is
// configured, discovery otherwise.
func Locate(p *project.Project, maxDepth int) ([]Stack, error) {
	if len(p.Stacks) > 0 {
		return Resolve(p.Path, p.Stacks), nil
	}
	return Discover(p.Path, maxDepth)
}
