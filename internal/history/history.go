// Package history keeps an audit log of deployments in SQLite. The watcher
// never reads it back to make decisions.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"deploywatch/internal/security"
)

// History manages deployment history in SQLite
type History struct {
	db *sql.DB
}

// NewHistory opens (creating when needed) the history database at dbPath.
func NewHistory(dbPath string) (*History, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), security.PermDirectory); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		// Create the file ourselves so it does not inherit a world-readable mode.
		f, err := os.OpenFile(dbPath, os.O_CREATE|os.O_RDWR, security.PermDBFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		f.Close()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for SQLite (single writer)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db}

	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return h, nil
}

// Close closes the database connection
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) initSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS deployments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			project TEXT NOT NULL,
			branch TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			duration_seconds REAL,
			commit_hash TEXT NOT NULL,
			previous_commit TEXT NOT NULL,
			stacks INTEGER NOT NULL DEFAULT 0,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = h.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_project_id
		ON deployments(project, id DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// RecordDeployment stores a finished deployment and returns its row ID.
// A zero StartedAt is recorded as now; an empty RunID is generated.
func (h *History) RecordDeployment(ctx context.Context, record *DeploymentRecord) (int64, error) {
	now := time.Now().UTC()

	if record.RunID == "" {
		record.RunID = uuid.NewString()
	}
	startedAt := record.StartedAt
	if startedAt.IsZero() {
		startedAt = now
	}

	var completedAt *string
	if record.CompletedAt != nil {
		formatted := record.CompletedAt.UTC().Format(time.RFC3339)
		completedAt = &formatted
	} else {
		formatted := now.Format(time.RFC3339)
		completedAt = &formatted
	}

	result, err := h.db.ExecContext(ctx, `
		INSERT INTO deployments
		(run_id, project, branch, status, started_at, completed_at,
		 duration_seconds, commit_hash, previous_commit, stacks, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.RunID,
		record.Project,
		record.Branch,
		record.Status,
		startedAt.UTC().Format(time.RFC3339),
		completedAt,
		record.DurationSeconds,
		record.CommitHash,
		record.PreviousCommit,
		record.Stacks,
		record.ErrorMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert deployment record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	record.ID = id

	return id, nil
}

const selectColumns = `
	SELECT id, run_id, project, branch, status, started_at, completed_at,
	       duration_seconds, commit_hash, previous_commit, stacks, error_message
	FROM deployments`

// GetLatestDeployment returns the most recent deployment for a project, or
// nil when there is none.
func (h *History) GetLatestDeployment(ctx context.Context, project string) (*DeploymentRecord, error) {
	row := h.db.QueryRowContext(ctx, selectColumns+`
		WHERE project = ?
		ORDER BY id DESC
		LIMIT 1
	`, project)

	record, err := scanDeploymentRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest deployment: %w", err)
	}

	return record, nil
}

// GetDeploymentHistory returns up to limit deployments for a project, most
// recent first.
func (h *History) GetDeploymentHistory(ctx context.Context, project string, limit int) ([]DeploymentRecord, error) {
	rows, err := h.db.QueryContext(ctx, selectColumns+`
		WHERE project = ?
		ORDER BY id DESC
		LIMIT ?
	`, project, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployment history: %w", err)
	}
	return collect(rows)
}

// GetRecentDeployments returns up to limit deployments across all projects,
// most recent first.
func (h *History) GetRecentDeployments(ctx context.Context, limit int) ([]DeploymentRecord, error) {
	rows, err := h.db.QueryContext(ctx, selectColumns+`
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent deployments: %w", err)
	}
	return collect(rows)
}

// GetAllProjectsStatus returns the latest deployment for each project
func (h *History) GetAllProjectsStatus(ctx context.Context) (map[string]*DeploymentRecord, error) {
	rows, err := h.db.QueryContext(ctx, selectColumns+`
		WHERE id IN (SELECT MAX(id) FROM deployments GROUP BY project)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query all projects status: %w", err)
	}

	records, err := collect(rows)
	if err != nil {
		return nil, err
	}

	result := make(map[string]*DeploymentRecord, len(records))
	for i := range records {
		result[records[i].Project] = &records[i]
	}
	return result, nil
}

func collect(rows *sql.Rows) ([]DeploymentRecord, error) {
	defer rows.Close()

	var records []DeploymentRecord
	for rows.Next() {
		record, err := scanDeploymentRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDeploymentRecord(s scanner) (*DeploymentRecord, error) {
	var record DeploymentRecord
	var startedAtStr string
	var completedAtStr sql.NullString

	err := s.Scan(
		&record.ID,
		&record.RunID,
		&record.Project,
		&record.Branch,
		&record.Status,
		&startedAtStr,
		&completedAtStr,
		&record.DurationSeconds,
		&record.CommitHash,
		&record.PreviousCommit,
		&record.Stacks,
		&record.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	startedAt, err := time.Parse(time.RFC3339, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	record.StartedAt = startedAt

	if completedAtStr.Valid {
		completedAt, err := time.Parse(time.RFC3339, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
		}
		record.CompletedAt = &completedAt
	}

	return &record, nil
}
