package crew

import (
	"context"
	"time"
)

// RunStatus is the outcome of a recorded pipeline run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is the history record of one pipeline invocation. Stage outputs are
// empty for stages that did not complete.
type Run struct {
	ID           string
	SessionID    string
	Description  string
	Requirements string
	Status       RunStatus
	Error        string
	Plan         string
	Code         string
	Tests        string
	Metrics      MetricsSummary
	StartedAt    time.Time
	EndedAt      time.Time
}

// RunStore persists run history. GetRun returns ErrRunNotFound for unknown
// ids. ListRuns returns the most recent runs first.
type RunStore interface {
	RecordRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	GetRun(ctx context.Context, id string) (Run, error)
}
