package history

import "time"

// Deployment statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// DeploymentRecord is one reconciliation that tried to deploy a commit.
type DeploymentRecord struct {
	ID              int64
	RunID           string // uuid, generated when empty
	Project         string
	Branch          string
	Status          string // success, failed
	StartedAt       time.Time
	CompletedAt     *time.Time // nullable
	DurationSeconds *float64   // nullable
	CommitHash      string
	PreviousCommit  string
	Stacks          int
	ErrorMessage    *string // nullable
}

// Succeeded reports whether the deployment completed without error.
func (r *DeploymentRecord) Succeeded() bool {
	return r.Status == StatusSuccess
}
