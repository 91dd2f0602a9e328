package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"docflow/internal/api"
)

func executeCommand(t *testing.T, server *httptest.Server, args ...string) string {
	t.Helper()

	cmd := newRootCommand()
	full := append([]string{"--config", filepath.Join(t.TempDir(), "missing.toml")}, args...)
	if server != nil {
		full = append(full, "--api", server.URL)
	}
	cmd.SetArgs(full)
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("command %v failed: %v\noutput: %s", args, err, buf.String())
	}
	return buf.String()
}

func TestWorkflowListRendersTable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.WorkflowListResponse{Workflows: []api.WorkflowView{{
			ID:              "wf-1",
			SubjectID:       "subj-1",
			TenantID:        "tenant-a",
			Status:          "processing",
			CurrentStage:    "persist",
			StagesCompleted: 2,
			StagesTotal:     6,
		}}})
	}))
	defer server.Close()

	output := executeCommand(t, server, "workflow", "list")
	for _, want := range []string{"wf-1", "subj-1", "processing", "2/6"} {
		if !strings.Contains(output, want) {
			t.Fatalf("output missing %q:\n%s", want, output)
		}
	}
}

func TestWorkflowListEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.WorkflowListResponse{})
	}))
	defer server.Close()

	output := executeCommand(t, server, "workflow", "list")
	if !strings.Contains(output, "No workflows") {
		t.Fatalf("unexpected output:\n%s", output)
	}
}

func TestWorkflowShowRendersHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.WorkflowResponse{Workflow: api.WorkflowView{
			ID:              "wf-2",
			SubjectID:       "subj-2",
			TenantID:        "tenant-a",
			Status:          "failed",
			ErrorMessage:    "persist: upstream unavailable",
			ErrorCategory:   "network",
			StagesCompleted: 1,
			StagesTotal:     6,
			History: []api.HistoryEntry{
				{Stage: "extract", Status: "completed"},
				{Stage: "persist", Status: "failed", Detail: "upstream unavailable"},
			},
		}})
	}))
	defer server.Close()

	output := executeCommand(t, server, "workflow", "show", "wf-2")
	for _, want := range []string{"wf-2", "[network]", "extract", "upstream unavailable"} {
		if !strings.Contains(output, want) {
			t.Fatalf("output missing %q:\n%s", want, output)
		}
	}
}

func TestDeadLetterRetryOutcomes(t *testing.T) {
	outcome := api.RetryDispatched
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.RetryResult{
			EntryID:    7,
			WorkflowID: "wf-3",
			Stage:      "draft",
			Outcome:    outcome,
		})
	}))
	defer server.Close()

	output := executeCommand(t, server, "deadletter", "retry", "7")
	if !strings.Contains(output, "Re-dispatched stage draft") {
		t.Fatalf("unexpected output:\n%s", output)
	}

	outcome = api.RetryNotRetryable
	output = executeCommand(t, server, "deadletter", "retry", "7")
	if !strings.Contains(output, "not retryable") {
		t.Fatalf("unexpected output:\n%s", output)
	}
}

func TestIngestCommand(t *testing.T) {
	var got api.IngestRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.IngestResponse{
			Workflow: api.WorkflowView{ID: "wf-4", SubjectID: got.SubjectID},
			Inline:   got.Inline,
		})
	}))
	defer server.Close()

	output := executeCommand(t, server, "ingest", "subj-9", "--tenant", "tenant-b", "--inline", "--field", "source=upload")
	if !strings.Contains(output, "Workflow wf-4 created") {
		t.Fatalf("unexpected output:\n%s", output)
	}
	if got.TenantID != "tenant-b" || !got.Inline {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.Payload["source"] != "upload" {
		t.Fatalf("unexpected payload: %v", got.Payload)
	}
}

func TestParseFieldFlags(t *testing.T) {
	payload, err := parseFieldFlags([]string{"a=1", "b=two=parts"})
	if err != nil {
		t.Fatalf("parseFieldFlags returned error: %v", err)
	}
	if payload["a"] != "1" || payload["b"] != "two=parts" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if _, err := parseFieldFlags([]string{"noequals"}); err == nil {
		t.Fatal("expected error for malformed field")
	}
}

func TestConfigInitCommand(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	output := executeCommand(t, nil, "config", "init", "--path", target)
	if !strings.Contains(output, target) {
		t.Fatalf("unexpected output:\n%s", output)
	}

	cmd := newRootCommand()
	cmd.SetArgs([]string{"config", "init", "--path", target})
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error when config already exists")
	}
}
