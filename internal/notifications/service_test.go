package notifications_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"docflow/internal/config"
	"docflow/internal/notifications"
)

func TestNewServiceReturnsNoopWhenWebhookMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.WebhookURL = ""
	svc := notifications.NewService(cfg)
	if err := svc.NotifyCompleted(context.Background(), "wf-1", "subj-1", "tenant-a"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestWebhookServicePostsEvents(t *testing.T) {
	var received []notifications.Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		var ev notifications.Event
		if err := json.Unmarshal(body, &ev); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		received = append(received, ev)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.WebhookURL = server.URL
	svc := notifications.NewService(cfg)

	ctx := context.Background()
	if err := svc.NotifyCompleted(ctx, "wf-1", "subj-1", "tenant-a"); err != nil {
		t.Fatalf("NotifyCompleted failed: %v", err)
	}
	if err := svc.NotifyNeedsReview(ctx, "wf-2", "subj-2", "tenant-a", "low confidence"); err != nil {
		t.Fatalf("NotifyNeedsReview failed: %v", err)
	}
	if err := svc.NotifyFailed(ctx, "wf-3", "subj-3", "tenant-a", "boom"); err != nil {
		t.Fatalf("NotifyFailed failed: %v", err)
	}

	if len(received) != 3 {
		t.Fatalf("expected 3 events, got %d", len(received))
	}
	if received[0].Type != notifications.EventWorkflowCompleted || received[0].WorkflowID != "wf-1" {
		t.Fatalf("unexpected first event: %+v", received[0])
	}
	if received[1].Type != notifications.EventWorkflowNeedsReview || received[1].Message != "low confidence" {
		t.Fatalf("unexpected second event: %+v", received[1])
	}
	if received[2].Type != notifications.EventWorkflowFailed {
		t.Fatalf("unexpected third event: %+v", received[2])
	}
	if received[0].OccurredAt.IsZero() {
		t.Fatal("expected event timestamp")
	}
}

func TestWebhookServiceSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.WebhookURL = server.URL
	svc := notifications.NewService(cfg)
	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
