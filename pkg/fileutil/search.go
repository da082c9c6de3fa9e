package fileutil

import (
	"os"
	"path/filepath"
	"strings"
)

// SystemConfigDir is the system-wide configuration directory.
const SystemConfigDir = "/etc/deploywatch"

// SearchPathsOptional looks for a file in multiple locations.
// Returns the first path where the file exists, or empty string if not found.
func SearchPathsOptional(paths []string) string {
	for _, path := range paths {
		if FileExists(path) {
			return path
		}
	}
	return ""
}

// DefaultConfigPaths returns standard config search paths for a given filename.
// Search order:
// 1. Base directory (<baseDir>/<filename>)
// 2. Current directory (./<filename>)
// 3. System-wide config (/etc/deploywatch/<filename>)
func DefaultConfigPaths(baseDir, filename string) []string {
	return []string{
		filepath.Join(baseDir, filename),
		filepath.Join(".", filename),
		filepath.Join(SystemConfigDir, filename),
	}
}

// ExpandHome replaces a leading "~" with the current user's home directory.
// Paths without a leading "~" are returned unchanged.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// FileExists checks if a file exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// DirExists checks if a directory exists.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// PathExists checks if a path exists (file or directory).
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
