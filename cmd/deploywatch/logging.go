package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"deploywatch/internal/project"
	"deploywatch/internal/security"
)

// setupLogging builds the process logger. Step-level events are emitted at
// debug level and only shown with LOG_STEPS. When LOG_FILE is set, output
// is also appended to that file; the returned closer releases it.
func setupLogging(s *project.Settings, stdout io.Writer) (*slog.Logger, io.Closer, error) {
	var w io.Writer = stdout
	var closer io.Closer = nopCloser{}

	if s.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(s.LogFile), security.PermDirectory); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := security.OpenAppendFile(s.LogFile, security.PermLogFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(stdout, file)
		closer = file
	}

	level := slog.LevelInfo
	if s.LogSteps || verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if s.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
