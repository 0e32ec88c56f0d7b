package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/easelhq/easel/internal/model"
)

func postWorkflow(t *testing.T, url, owner, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("POST", url+"/v1/workflows", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(ownerHeader, owner)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /v1/workflows: %v", err)
	}
	return resp
}

const validGraphBody = `{"graph": {"3": {"class_type": "KSampler", "inputs": {"seed": 1}}}}`

func TestCreateWorkflowValid(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postWorkflow(t, ts.URL, "alice", validGraphBody)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var wf model.WorkflowDefinition
	if err := json.NewDecoder(resp.Body).Decode(&wf); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(wf.ID) != 26 {
		t.Errorf("ID length = %d, want 26", len(wf.ID))
	}
	if wf.GroupID == "" {
		t.Error("GroupID is empty, want a fresh group")
	}
	if wf.Version != 1 {
		t.Errorf("Version = %d, want 1", wf.Version)
	}
	// The first version of a group is always pinned.
	if !wf.Pinned {
		t.Error("first version not pinned")
	}
	if wf.OwnerID != "alice" {
		t.Errorf("OwnerID = %q, want alice", wf.OwnerID)
	}
	if wf.Visibility != model.VisibilityPrivate {
		t.Errorf("Visibility = %q, want private default", wf.Visibility)
	}
}

func TestCreateWorkflowAppendsVersion(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postWorkflow(t, ts.URL, "alice", validGraphBody)
	var first model.WorkflowDefinition
	json.NewDecoder(resp.Body).Decode(&first)
	resp.Body.Close()

	body := fmt.Sprintf(`{"group_id":%q,"pinned":true,"graph":{"3":{"class_type":"KSampler","inputs":{"seed":2}}}}`, first.GroupID)
	resp = postWorkflow(t, ts.URL, "alice", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var second model.WorkflowDefinition
	json.NewDecoder(resp.Body).Decode(&second)
	if second.Version != 2 {
		t.Errorf("Version = %d, want 2", second.Version)
	}
	if second.GroupID != first.GroupID {
		t.Errorf("GroupID = %q, want %q", second.GroupID, first.GroupID)
	}
	if !second.Pinned {
		t.Error("pinned version not pinned")
	}
}

func TestCreateWorkflowRejectsBadInput(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name string
		body string
	}{
		{"not json", "nope"},
		{"missing graph", `{"visibility":"private"}`},
		{"malformed graph", `{"graph": "not an object"}`},
		{"bad visibility", `{"graph": {"3": {"class_type": "KSampler", "inputs": {}}}, "visibility": "secret"}`},
	}
	for _, tt := range tests {
		resp := postWorkflow(t, ts.URL, "alice", tt.body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestGetWorkflowNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/workflows/nonexistent")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetWorkflowVisibility(t *testing.T) {
	srv := newTestServer(t)
	private := createTestWorkflow(t, srv.store, "alice", model.VisibilityPrivate)
	public := createTestWorkflow(t, srv.store, "alice", model.VisibilityPublic)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	get := func(id, owner string) int {
		req, _ := http.NewRequest("GET", ts.URL+"/v1/workflows/"+id, nil)
		req.Header.Set(ownerHeader, owner)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := get(private.ID, "alice"); code != http.StatusOK {
		t.Errorf("owner on private = %d, want 200", code)
	}
	if code := get(private.ID, "bob"); code != http.StatusNotFound {
		t.Errorf("stranger on private = %d, want 404", code)
	}
	if code := get(public.ID, "bob"); code != http.StatusOK {
		t.Errorf("stranger on public = %d, want 200", code)
	}
}

func TestListWorkflowsFiltersPrivate(t *testing.T) {
	srv := newTestServer(t)
	createTestWorkflow(t, srv.store, "alice", model.VisibilityPrivate)
	createTestWorkflow(t, srv.store, "alice", model.VisibilityPublic)
	createTestWorkflow(t, srv.store, "bob", model.VisibilityPrivate)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("GET", ts.URL+"/v1/workflows", nil)
	req.Header.Set(ownerHeader, "alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /v1/workflows: %v", err)
	}
	defer resp.Body.Close()

	var listResp listWorkflowsResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// alice sees her own two plus nothing of bob's.
	if len(listResp.Workflows) != 2 {
		t.Fatalf("got %d workflows, want 2", len(listResp.Workflows))
	}
	for _, wf := range listResp.Workflows {
		if wf.Visibility == model.VisibilityPrivate && wf.OwnerID != "alice" {
			t.Errorf("leaked private workflow of %q", wf.OwnerID)
		}
	}
}
