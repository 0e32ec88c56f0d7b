// Package store persists run records and workflow definitions. Run rows are
// only ever read and updated by id; each run is owned by exactly one writer,
// so single-row atomicity is all the engine relies on.
package store

import (
	"context"
	"errors"

	"github.com/easelhq/easel/internal/model"
)

// ErrNotFound is returned when a run or workflow does not exist.
var ErrNotFound = errors.New("record not found")

// ErrInvalidTransition is returned when a run status update would move the
// run backward or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid status transition")

// RunProgress is the incremental state persisted after each artifact during
// the upload phase.
type RunProgress struct {
	Message         string
	ImagesCompleted int
	OutputNames     []string
	StorePaths      []string
	AssetIDs        []string
}

// RunStats holds aggregate run statistics.
type RunStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for runs and workflow definitions.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, ownerID string, limit, offset int) ([]*model.Run, int, error)
	UpdateRunStatus(ctx context.Context, id, status string) error
	SetRunJobID(ctx context.Context, id, jobID string) error
	SetRunOptimizedPrompt(ctx context.Context, id, prompt string) error
	SetRunImagesTotal(ctx context.Context, id string, total int) error
	UpdateRunProgress(ctx context.Context, id string, p RunProgress) error
	FinishRun(ctx context.Context, id, status, errMsg string) error
	GetRunStats(ctx context.Context) (*RunStats, error)

	CreateWorkflow(ctx context.Context, wf *model.WorkflowDefinition) error
	GetWorkflow(ctx context.Context, id string) (*model.WorkflowDefinition, error)
	GetPinnedWorkflow(ctx context.Context, groupID string) (*model.WorkflowDefinition, error)
	ListWorkflows(ctx context.Context, limit, offset int) ([]*model.WorkflowDefinition, int, error)

	Close() error
}
