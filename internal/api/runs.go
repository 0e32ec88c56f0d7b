package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/easelhq/easel/internal/engine"
	"github.com/easelhq/easel/internal/model"
	"github.com/easelhq/easel/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB

	ownerHeader  = "X-Owner-Id"
	defaultOwner = "anonymous"
)

// createRunRequest is the JSON body for POST /v1/runs. Exactly one of
// workflow_id and group_id selects the workflow; group_id resolves to the
// group's pinned version.
type createRunRequest struct {
	WorkflowID     string         `json:"workflow_id"`
	GroupID        string         `json:"group_id"`
	Params         map[string]any `json:"params"`
	OptimizePrompt bool           `json:"optimize_prompt"`
	SaveToLibrary  bool           `json:"save_to_library"`
}

// listRunsResponse wraps the paginated list response.
type listRunsResponse struct {
	Runs   []*model.Run `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if (req.WorkflowID == "") == (req.GroupID == "") {
		s.writeError(w, http.StatusBadRequest, "exactly one of workflow_id and group_id is required")
		return
	}

	owner := ownerID(r)

	wf, err := s.resolveWorkflow(r, req.WorkflowID, req.GroupID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		s.logger.Error("resolve workflow", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to resolve workflow")
		return
	}
	if wf.Visibility == model.VisibilityPrivate && wf.OwnerID != owner {
		s.writeError(w, http.StatusForbidden, "workflow is not accessible")
		return
	}

	run := &model.Run{
		ID:             model.NewID(),
		WorkflowID:     wf.ID,
		OwnerID:        owner,
		Status:         model.StatusPending,
		Params:         req.Params,
		OptimizePrompt: req.OptimizePrompt,
		SaveToLibrary:  req.SaveToLibrary,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.engine.Submit(r.Context(), run); err != nil {
		if errors.Is(err, engine.ErrQueueFull) {
			s.writeError(w, http.StatusServiceUnavailable, "run queue is full, try again later")
			return
		}
		s.logger.Error("submit run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit run")
		return
	}

	s.writeJSON(w, http.StatusAccepted, run)
}

// resolveWorkflow loads the workflow a run request refers to, either directly
// by id or through a group's pinned version.
func (s *Server) resolveWorkflow(r *http.Request, workflowID, groupID string) (*model.WorkflowDefinition, error) {
	if workflowID != "" {
		return s.store.GetWorkflow(r.Context(), workflowID)
	}
	return s.store.GetPinnedWorkflow(r.Context(), groupID)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run.OwnerID != ownerID(r) {
		// Runs are private to their owner; do not reveal existence.
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs, total, err := s.store.ListRuns(r.Context(), ownerID(r), limit, offset)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	if runs == nil {
		runs = []*model.Run{}
	}

	s.writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// ownerID extracts the calling owner from the request, falling back to a
// shared anonymous owner when the header is absent.
func ownerID(r *http.Request) string {
	if v := r.Header.Get(ownerHeader); v != "" {
		return v
	}
	return defaultOwner
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
