package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"docflow/internal/api"
	"docflow/internal/client"
)

func TestClientListAndDescribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization header = %q", got)
		}
		switch r.URL.Path {
		case "/api/workflows":
			if r.URL.Query().Get("status") != "failed" {
				t.Errorf("unexpected query: %s", r.URL.RawQuery)
			}
			json.NewEncoder(w).Encode(api.WorkflowListResponse{
				Workflows: []api.WorkflowView{{ID: "wf-1", Status: "failed"}},
			})
		case "/api/workflows/wf-1":
			json.NewEncoder(w).Encode(api.WorkflowResponse{
				Workflow: api.WorkflowView{ID: "wf-1", Status: "failed"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := client.New(server.URL, "tok")
	views, err := c.ListWorkflows(context.Background(), "failed")
	if err != nil {
		t.Fatalf("ListWorkflows returned error: %v", err)
	}
	if len(views) != 1 || views[0].ID != "wf-1" {
		t.Fatalf("unexpected workflows: %+v", views)
	}

	view, err := c.DescribeWorkflow(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("DescribeWorkflow returned error: %v", err)
	}
	if view.Status != "failed" {
		t.Fatalf("unexpected status: %q", view.Status)
	}
}

func TestClientNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "workflow not found"})
	}))
	defer server.Close()

	c := client.New(server.URL, "")
	_, err := c.DescribeWorkflow(context.Background(), "missing")
	if !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClientBareHostAddress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"running": true})
	}))
	defer server.Close()

	c := client.New(server.Listener.Addr().String(), "")
	health, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health returned error: %v", err)
	}
	if running, _ := health["running"].(bool); !running {
		t.Fatalf("unexpected health payload: %v", health)
	}
}

func TestClientLogPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/logs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("offset") != "-1" || r.URL.Query().Get("limit") != "50" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(api.LogPageResponse{Lines: []string{"a", "b"}, NextOffset: 42})
	}))
	defer server.Close()

	c := client.New(server.URL, "")
	page, err := c.LogPage(context.Background(), -1, 50, 0)
	if err != nil {
		t.Fatalf("LogPage returned error: %v", err)
	}
	if len(page.Lines) != 2 || page.NextOffset != 42 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestClientRetryDeadLetterOutcome(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/deadletters/7/retry" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(api.RetryResult{EntryID: 7, Outcome: api.RetryDispatched})
	}))
	defer server.Close()

	c := client.New(server.URL, "")
	result, err := c.RetryDeadLetter(context.Background(), 7)
	if err != nil {
		t.Fatalf("RetryDeadLetter returned error: %v", err)
	}
	if result.Outcome != api.RetryDispatched {
		t.Fatalf("unexpected outcome: %q", result.Outcome)
	}
}
