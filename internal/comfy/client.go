// Package comfy is the client for the external compute backend that executes
// canonical graphs and serves the artifacts they produce.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/easelhq/easel/internal/graph"
)

// ErrPollTimeout is the sentinel returned by PollUntilTerminal when the job
// does not reach a terminal state within the allotted time.
var ErrPollTimeout = errors.New("job polling timed out")

// Job states reported by FetchJob.
const (
	StateNotFound = "not_found"
	StateRunning  = "running"
	StateComplete = "completed"
	StateFailed   = "failed"
)

// Artifact identifies one output file of a completed job on the backend.
type Artifact struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// JobStatus is the observed state of a submitted job. Outputs is populated
// only for completed jobs, Err only for failed ones.
type JobStatus struct {
	State   string
	Outputs []Artifact
	Err     string
}

// Terminal reports whether the status needs no further polling.
func (s *JobStatus) Terminal() bool {
	return s.State == StateComplete || s.State == StateFailed
}

// Client talks to a ComfyUI-compatible compute backend over HTTP.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewClient creates a compute-backend client for the given base URL.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// submitResponse is the backend's reply to a graph submission.
type submitResponse struct {
	PromptID string `json:"prompt_id"`
}

// SubmitJob submits a canonical graph for execution and returns the backend's
// job id, or "" when submission fails for any reason. Each call carries a
// fresh correlation id. Failures are logged, never returned: the caller only
// needs to know whether it got a job id.
func (c *Client) SubmitJob(ctx context.Context, g graph.Graph) string {
	payload := map[string]any{
		"prompt":    g,
		"client_id": uuid.NewString(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("marshal job payload", "error", err)
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		c.logger.Error("build submit request", "error", err)
		return ""
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logger.Error("submit job", "error", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("submit job rejected", "status", resp.StatusCode)
		return ""
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.logger.Error("decode submit response", "error", err)
		return ""
	}
	if out.PromptID == "" {
		c.logger.Error("submit response missing job id")
	}
	return out.PromptID
}

// historyEntry mirrors the backend's /history record for one job.
type historyEntry struct {
	Status struct {
		Completed bool              `json:"completed"`
		StatusStr string            `json:"status_str"`
		Messages  []json.RawMessage `json:"messages"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []Artifact `json:"images"`
	} `json:"outputs"`
}

// FetchJob reads the backend's view of a job. A job absent from the history
// is reported as not found; whether that means "still queued" is the
// caller's call.
func (c *Client) FetchJob(ctx context.Context, jobID string) (*JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch job history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch job history: status %d", resp.StatusCode)
	}

	var history map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, fmt.Errorf("decode job history: %w", err)
	}

	entry, ok := history[jobID]
	if !ok {
		return &JobStatus{State: StateNotFound}, nil
	}

	switch {
	case entry.Status.Completed || entry.Status.StatusStr == "success":
		return &JobStatus{State: StateComplete, Outputs: flattenOutputs(entry)}, nil
	case entry.Status.StatusStr == "error", hasExecutionError(entry):
		return &JobStatus{State: StateFailed, Err: failureText(entry)}, nil
	default:
		return &JobStatus{State: StateRunning}, nil
	}
}

// flattenOutputs collects every image across the job's output nodes. Node ids
// are visited in numeric order so the artifact sequence is stable across
// calls despite the map encoding.
func flattenOutputs(entry historyEntry) []Artifact {
	nodeIDs := make([]string, 0, len(entry.Outputs))
	for id := range entry.Outputs {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Slice(nodeIDs, func(i, j int) bool {
		a, errA := strconv.Atoi(nodeIDs[i])
		b, errB := strconv.Atoi(nodeIDs[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return nodeIDs[i] < nodeIDs[j]
	})

	var artifacts []Artifact
	for _, id := range nodeIDs {
		artifacts = append(artifacts, entry.Outputs[id].Images...)
	}
	return artifacts
}

// executionErrorMessage finds the ["execution_error", {details}] message pair
// in a history entry, if any, and returns its exception text.
func executionErrorMessage(entry historyEntry) (string, bool) {
	for _, raw := range entry.Status.Messages {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) < 2 {
			continue
		}
		var kind string
		if err := json.Unmarshal(pair[0], &kind); err != nil || kind != "execution_error" {
			continue
		}
		var detail struct {
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(pair[1], &detail); err == nil {
			return detail.ExceptionMessage, true
		}
		return "", true
	}
	return "", false
}

func hasExecutionError(entry historyEntry) bool {
	_, ok := executionErrorMessage(entry)
	return ok
}

// failureText extracts a human-readable error from a failed history entry.
func failureText(entry historyEntry) string {
	if msg, ok := executionErrorMessage(entry); ok && msg != "" {
		return msg
	}
	if entry.Status.StatusStr != "" {
		return "job failed with status " + entry.Status.StatusStr
	}
	return "job failed"
}

// PollUntilTerminal re-checks the job at a fixed interval until it completes
// or fails, returning ErrPollTimeout once the elapsed wall time exceeds
// timeout. Elapsed time is checked before every re-check, so a zero timeout
// never polls. Transient fetch errors are logged and retried; they burn
// toward the same timeout.
func (c *Client) PollUntilTerminal(ctx context.Context, jobID string, timeout, interval time.Duration) (*JobStatus, error) {
	deadline := time.Now().Add(timeout)
	for {
		if !time.Now().Before(deadline) {
			return nil, ErrPollTimeout
		}

		status, err := c.FetchJob(ctx, jobID)
		if err != nil {
			c.logger.Warn("poll fetch failed", "job_id", jobID, "error", err)
		} else if status.Terminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// FetchArtifact downloads one artifact's bytes, returning nil on any failure.
// A missing artifact is the caller's policy decision, not this client's.
func (c *Client) FetchArtifact(ctx context.Context, a Artifact) []byte {
	q := url.Values{}
	q.Set("filename", a.Filename)
	q.Set("subfolder", a.Subfolder)
	q.Set("type", a.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		c.logger.Error("build artifact request", "error", err)
		return nil
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logger.Error("fetch artifact", "filename", a.Filename, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("fetch artifact rejected", "filename", a.Filename, "status", resp.StatusCode)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("read artifact body", "filename", a.Filename, "error", err)
		return nil
	}
	return data
}
