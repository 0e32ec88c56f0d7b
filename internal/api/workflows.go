package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/easelhq/easel/internal/graph"
	"github.com/easelhq/easel/internal/model"
	"github.com/easelhq/easel/internal/store"
)

// createWorkflowRequest is the JSON body for POST /v1/workflows. An empty
// group_id starts a new workflow group; a known one appends the next version
// to it.
type createWorkflowRequest struct {
	GroupID    string            `json:"group_id"`
	Graph      json.RawMessage   `json:"graph"`
	Overrides  model.OverrideMap `json:"overrides"`
	Visibility string            `json:"visibility"`
	Tags       []string          `json:"tags"`
	Pinned     bool              `json:"pinned"`
}

// listWorkflowsResponse wraps the paginated list response.
type listWorkflowsResponse struct {
	Workflows []*model.WorkflowDefinition `json:"workflows"`
	Total     int                         `json:"total"`
	Limit     int                         `json:"limit"`
	Offset    int                         `json:"offset"`
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if len(req.Graph) == 0 {
		s.writeError(w, http.StatusBadRequest, "graph is required")
		return
	}
	// Normalizing up front rejects malformed graphs at submission time
	// instead of at first run.
	normalized, err := graph.Normalize(req.Graph)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid workflow graph")
		return
	}
	canonical, err := json.Marshal(normalized)
	if err != nil {
		s.logger.Error("marshal normalized graph", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store workflow")
		return
	}

	visibility := req.Visibility
	if visibility == "" {
		visibility = model.VisibilityPrivate
	}
	if visibility != model.VisibilityPrivate && visibility != model.VisibilityPublic {
		s.writeError(w, http.StatusBadRequest, "visibility must be private or public")
		return
	}

	groupID := req.GroupID
	if groupID == "" {
		groupID = model.NewID()
	}

	wf := &model.WorkflowDefinition{
		ID:         model.NewID(),
		GroupID:    groupID,
		OwnerID:    ownerID(r),
		Pinned:     req.Pinned,
		Graph:      canonical,
		Overrides:  req.Overrides,
		Visibility: visibility,
		Tags:       req.Tags,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.store.CreateWorkflow(r.Context(), wf); err != nil {
		s.logger.Error("create workflow", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create workflow")
		return
	}

	s.writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	wf, err := s.store.GetWorkflow(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		s.logger.Error("get workflow", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get workflow")
		return
	}
	if wf.Visibility == model.VisibilityPrivate && wf.OwnerID != ownerID(r) {
		s.writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	s.writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	workflows, total, err := s.store.ListWorkflows(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list workflows", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list workflows")
		return
	}

	// Private workflows of other owners are filtered from the page rather
	// than hidden at the query level; the totals stay coarse but no private
	// graph ever crosses the wire.
	owner := ownerID(r)
	visible := make([]*model.WorkflowDefinition, 0, len(workflows))
	for _, wf := range workflows {
		if wf.Visibility == model.VisibilityPrivate && wf.OwnerID != owner {
			continue
		}
		visible = append(visible, wf)
	}

	s.writeJSON(w, http.StatusOK, listWorkflowsResponse{
		Workflows: visible,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
	})
}
