package daemon_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"

	"docflow/internal/api"
	"docflow/internal/testsupport"
	"docflow/internal/workflow"
)

func apiURL(t *testing.T, f *fixtures, path string) string {
	t.Helper()
	addr := f.daemon.APIAddr()
	if addr == "" {
		t.Fatal("api server not listening")
	}
	return fmt.Sprintf("http://%s%s", addr, path)
}

func decodeJSON(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestAPIServerIngestAndQuery(t *testing.T) {
	f := startDaemon(t, testsupport.NewConfig(t))

	body, _ := json.Marshal(api.IngestRequest{
		SubjectID: "subj-api",
		TenantID:  "tenant-a",
		Inline:    true,
	})
	resp, err := http.Post(apiURL(t, f, "/api/ingest"), "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("ingest request: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status = %d, want 201", resp.StatusCode)
	}
	var created api.IngestResponse
	decodeJSON(t, resp, &created)
	if created.Workflow.ID == "" {
		t.Fatal("expected workflow id in ingest response")
	}

	waitForStatus(t, f.daemon.Service(), created.Workflow.ID, workflow.StatusCompleted)

	resp, err = http.Get(apiURL(t, f, "/api/workflows?status=completed"))
	if err != nil {
		t.Fatalf("list request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	var list api.WorkflowListResponse
	decodeJSON(t, resp, &list)
	if len(list.Workflows) != 1 {
		t.Fatalf("workflow count = %d, want 1", len(list.Workflows))
	}

	resp, err = http.Get(apiURL(t, f, "/api/workflows/"+created.Workflow.ID))
	if err != nil {
		t.Fatalf("describe request: %v", err)
	}
	var described api.WorkflowResponse
	decodeJSON(t, resp, &described)
	if described.Workflow.ProgressPercent != 100 {
		t.Fatalf("progress = %v, want 100", described.Workflow.ProgressPercent)
	}

	resp, err = http.Get(apiURL(t, f, "/api/workflows/"+created.Workflow.ID+"/status"))
	if err != nil {
		t.Fatalf("tenant status request: %v", err)
	}
	var tenant api.TenantStatusView
	decodeJSON(t, resp, &tenant)
	if tenant.State != string(workflow.TenantCompleted) {
		t.Fatalf("tenant state = %q, want %q", tenant.State, workflow.TenantCompleted)
	}
}

func TestAPIServerHealthAndErrors(t *testing.T) {
	f := startDaemon(t, testsupport.NewConfig(t))

	resp, err := http.Get(apiURL(t, f, "/api/health"))
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
	var health map[string]any
	decodeJSON(t, resp, &health)
	if running, _ := health["running"].(bool); !running {
		t.Fatal("expected running=true in health payload")
	}

	resp, err = http.Get(apiURL(t, f, "/api/workflows/missing-id"))
	if err != nil {
		t.Fatalf("describe request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing workflow status = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(apiURL(t, f, "/api/workflows?status=bogus"))
	if err != nil {
		t.Fatalf("list request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus status filter = %d, want 400", resp.StatusCode)
	}
}

func TestAPIServerLogs(t *testing.T) {
	f := startDaemon(t, testsupport.NewConfig(t))

	if err := os.WriteFile(f.daemon.LogFilePath(), []byte("line one\nline two\n"), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	resp, err := http.Get(apiURL(t, f, "/api/logs?offset=-1&limit=1"))
	if err != nil {
		t.Fatalf("logs request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logs status = %d, want 200", resp.StatusCode)
	}
	var page api.LogPageResponse
	decodeJSON(t, resp, &page)
	if len(page.Lines) != 1 || page.Lines[0] != "line two" {
		t.Fatalf("unexpected log page: %+v", page)
	}
	if page.NextOffset == 0 {
		t.Fatal("expected non-zero resume offset")
	}
}

func TestAPIServerBearerAuth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = "sekrit"
	f := startDaemon(t, cfg)

	resp, err := http.Get(apiURL(t, f, "/api/health"))
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, apiURL(t, f, "/api/health"), nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authenticated request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", resp.StatusCode)
	}
}
