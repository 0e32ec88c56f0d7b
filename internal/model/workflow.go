package model

import (
	"encoding/json"
	"time"
)

// Workflow visibility constants.
const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

// ParamTarget locates the graph field a logical parameter writes to: a node,
// an input field on it, and optionally a subfield when the input holds a
// nested object.
type ParamTarget struct {
	NodeID   string `json:"node_id"`
	Field    string `json:"field"`
	Subfield string `json:"subfield,omitempty"`
}

// OverrideMap maps logical parameter names to their graph targets. It is
// immutable once loaded for a run.
type OverrideMap map[string]ParamTarget

// WorkflowDefinition is one stored version of a generative workflow. Versions
// of the same workflow share a group ID; exactly one version per group is
// pinned at any time.
type WorkflowDefinition struct {
	ID         string          `json:"id"`
	GroupID    string          `json:"group_id"`
	OwnerID    string          `json:"owner_id"`
	Version    int             `json:"version"`
	Pinned     bool            `json:"pinned"`
	Graph      json.RawMessage `json:"graph"`
	Overrides  OverrideMap     `json:"overrides,omitempty"`
	Visibility string          `json:"visibility"`
	Tags       []string        `json:"tags,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
