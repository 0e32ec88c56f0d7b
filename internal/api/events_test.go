package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/easelhq/easel/internal/model"
)

func TestStreamRunEventsNotFound(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/nonexistent/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamRunEventsOwnerScoped(t *testing.T) {
	srv := newTestServer(t)
	r := &model.Run{
		ID:         model.NewID(),
		WorkflowID: "wf-1",
		OwnerID:    "alice",
		Status:     model.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := srv.store.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("GET", ts.URL+"/v1/runs/"+r.ID+"/events", nil)
	req.Header.Set(ownerHeader, "mallory")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for non-owner", resp.StatusCode)
	}
}

func TestStreamRunEventsTerminalRunGetsSnapshotAndDone(t *testing.T) {
	srv := newTestServer(t)
	r := &model.Run{
		ID:         model.NewID(),
		WorkflowID: "wf-1",
		OwnerID:    "alice",
		Status:     model.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := srv.store.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := srv.store.FinishRun(context.Background(), r.ID, model.StatusCompleted, ""); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("GET", ts.URL+"/v1/runs/"+r.ID+"/events", nil)
	req.Header.Set(ownerHeader, "alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	snapshots, done := readRunEvents(t, resp)
	if len(snapshots) != 1 {
		t.Fatalf("got %d snapshots, want 1: %v", len(snapshots), snapshots)
	}
	if snapshots[0].Status != model.StatusCompleted {
		t.Errorf("snapshot status = %q, want completed", snapshots[0].Status)
	}
	if !done {
		t.Error("stream ended without a done event")
	}
}

func TestStreamRunEventsFollowsLifecycle(t *testing.T) {
	srv := newTestServer(t)
	r := &model.Run{
		ID:         model.NewID(),
		WorkflowID: "wf-1",
		OwnerID:    "alice",
		Status:     model.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := srv.store.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/v1/runs/"+r.ID+"/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set(ownerHeader, "alice")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	// Drive the record forward while the stream is open.
	go func() {
		time.Sleep(20 * time.Millisecond)
		srv.store.UpdateRunStatus(context.Background(), r.ID, model.StatusGenerating)
		time.Sleep(20 * time.Millisecond)
		srv.store.FinishRun(context.Background(), r.ID, model.StatusCompleted, "")
	}()

	snapshots, done := readRunEvents(t, resp)
	if len(snapshots) < 2 {
		t.Fatalf("got %d snapshots, want at least pending and completed", len(snapshots))
	}
	if snapshots[0].Status != model.StatusPending {
		t.Errorf("first snapshot status = %q, want pending", snapshots[0].Status)
	}
	last := snapshots[len(snapshots)-1]
	if last.Status != model.StatusCompleted {
		t.Errorf("last snapshot status = %q, want completed", last.Status)
	}
	if !done {
		t.Error("stream ended without a done event")
	}
}

// readRunEvents parses SSE frames from the response body until it closes,
// returning the decoded run snapshots and whether a done event was seen.
func readRunEvents(t *testing.T, resp *http.Response) ([]*model.Run, bool) {
	t.Helper()
	var snapshots []*model.Run
	done := false

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: done" {
			done = true
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok || done {
			continue
		}
		var run model.Run
		if err := json.Unmarshal([]byte(data), &run); err != nil {
			t.Fatalf("snapshot is not a run record: %v\ndata: %s", err, data)
		}
		snapshots = append(snapshots, &run)
	}
	return snapshots, done
}
