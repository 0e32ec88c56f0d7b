package model

import "time"

// Run status constants, in forward lifecycle order.
const (
	StatusPending         = "pending"
	StatusRewritingPrompt = "rewriting_prompt"
	StatusSubmitting      = "submitting"
	StatusGenerating      = "generating"
	StatusUploading       = "uploading"
	StatusCompleted       = "completed"
	StatusFailed          = "failed"
)

// legacyStatusRunning is an alias for StatusGenerating found in records
// persisted by older deployments. It is accepted only when scanning a stored
// row; nothing writes it.
const legacyStatusRunning = "running"

// statusRank orders statuses so that transitions can be checked for forward
// motion. Completed and failed share a rank: both are terminal and a run
// reaches exactly one of them.
var statusRank = map[string]int{
	StatusPending:         0,
	StatusRewritingPrompt: 1,
	StatusSubmitting:      2,
	StatusGenerating:      3,
	StatusUploading:       4,
	StatusCompleted:       5,
	StatusFailed:          5,
}

// CanonicalStatus normalizes a persisted status value, collapsing the legacy
// "running" alias into StatusGenerating.
func CanonicalStatus(s string) string {
	if s == legacyStatusRunning {
		return StatusGenerating
	}
	return s
}

// ValidTransition reports whether a run may move from one status to another.
// Transitions only ever move forward; terminal statuses admit no successor.
func ValidTransition(from, to string) bool {
	fromRank, ok := statusRank[CanonicalStatus(from)]
	if !ok {
		return false
	}
	toRank, ok := statusRank[CanonicalStatus(to)]
	if !ok {
		return false
	}
	if TerminalStatus(from) {
		return false
	}
	return toRank > fromRank
}

// TerminalStatus reports whether a status is terminal.
func TerminalStatus(s string) bool {
	s = CanonicalStatus(s)
	return s == StatusCompleted || s == StatusFailed
}

// Run represents one execution attempt of a workflow with concrete
// parameter values. A run is created pending by the triggering request and
// from then on mutated exclusively by the worker that owns it.
type Run struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflow_id"`
	OwnerID         string         `json:"owner_id"`
	Status          string         `json:"status"`
	JobID           string         `json:"job_id,omitempty"`
	Params          map[string]any `json:"params,omitempty"`
	OptimizePrompt  bool           `json:"optimize_prompt,omitempty"`
	SaveToLibrary   bool           `json:"save_to_library,omitempty"`
	OptimizedPrompt string         `json:"optimized_prompt,omitempty"`
	OutputNames     []string       `json:"output_names,omitempty"`
	StorePaths      []string       `json:"store_paths,omitempty"`
	AssetIDs        []string       `json:"asset_ids,omitempty"`
	Error           string         `json:"error,omitempty"`
	Progress        string         `json:"progress,omitempty"`
	ImagesCompleted int            `json:"images_completed"`
	ImagesTotal     int            `json:"images_total"`
	CreatedAt       time.Time      `json:"created_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}
