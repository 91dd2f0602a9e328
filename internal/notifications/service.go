package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docflow/internal/config"
)

const userAgent = "Docflow-Go/0.1.0"

// EventType enumerates the workflow milestones tenants can subscribe to.
type EventType string

const (
	EventWorkflowCompleted   EventType = "workflow.completed"
	EventWorkflowNeedsReview EventType = "workflow.needs_review"
	EventWorkflowFailed      EventType = "workflow.failed"
	EventTest                EventType = "test"
)

// Event is the JSON document posted to the tenant webhook.
type Event struct {
	Type       EventType `json:"type"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	SubjectID  string    `json:"subject_id,omitempty"`
	TenantID   string    `json:"tenant_id,omitempty"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyCompleted(ctx context.Context, workflowID, subjectID, tenantID string) error
	NotifyNeedsReview(ctx context.Context, workflowID, subjectID, tenantID, reason string) error
	NotifyFailed(ctx context.Context, workflowID, subjectID, tenantID, message string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a webhook-backed notification service. When no webhook
// URL is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	url := strings.TrimSpace(cfg.Notifications.WebhookURL)
	if url == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &webhookService{
		endpoint: url,
		client:   &http.Client{Timeout: timeout},
	}
}

type webhookService struct {
	endpoint string
	client   *http.Client
}

func (w *webhookService) NotifyCompleted(ctx context.Context, workflowID, subjectID, tenantID string) error {
	return w.send(ctx, Event{
		Type:       EventWorkflowCompleted,
		WorkflowID: workflowID,
		SubjectID:  subjectID,
		TenantID:   tenantID,
		Message:    "document processed",
	})
}

func (w *webhookService) NotifyNeedsReview(ctx context.Context, workflowID, subjectID, tenantID, reason string) error {
	return w.send(ctx, Event{
		Type:       EventWorkflowNeedsReview,
		WorkflowID: workflowID,
		SubjectID:  subjectID,
		TenantID:   tenantID,
		Message:    reason,
	})
}

func (w *webhookService) NotifyFailed(ctx context.Context, workflowID, subjectID, tenantID, message string) error {
	return w.send(ctx, Event{
		Type:       EventWorkflowFailed,
		WorkflowID: workflowID,
		SubjectID:  subjectID,
		TenantID:   tenantID,
		Message:    message,
	})
}

func (w *webhookService) TestNotification(ctx context.Context) error {
	return w.send(ctx, Event{Type: EventTest, Message: "notification system test"})
}

func (w *webhookService) send(ctx context.Context, event Event) error {
	if w == nil || w.client == nil {
		return nil
	}
	event.OccurredAt = time.Now().UTC()

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode webhook event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Noop returns a notifier that discards every event.
func Noop() Service { return noopService{} }

type noopService struct{}

func (noopService) NotifyCompleted(context.Context, string, string, string) error { return nil }
func (noopService) NotifyNeedsReview(context.Context, string, string, string, string) error {
	return nil
}
func (noopService) NotifyFailed(context.Context, string, string, string, string) error { return nil }
func (noopService) TestNotification(context.Context) error                             { return nil }
