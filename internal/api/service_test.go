package api_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"docflow/internal/api"
	"docflow/internal/broker"
	"docflow/internal/store"
	"docflow/internal/workflow"
)

type captureDispatcher struct {
	jobs []broker.Job
}

func (d *captureDispatcher) Enqueue(_ context.Context, job broker.Job) error {
	d.jobs = append(d.jobs, job)
	return nil
}

func newTestService(t *testing.T) (*api.WorkflowService, *store.Store, *captureDispatcher) {
	t.Helper()
	st, err := store.OpenPath(filepath.Join(t.TempDir(), "docflow.db"))
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	dispatcher := &captureDispatcher{}
	return api.NewWorkflowService(st, dispatcher), st, dispatcher
}

func createRecord(t *testing.T, st *store.Store, status workflow.Status) *workflow.Record {
	t.Helper()
	rec := &workflow.Record{
		SubjectID:   "subj-1",
		TenantID:    "tenant-a",
		StagesTotal: 6,
	}
	if err := st.CreateRecord(context.Background(), rec); err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	if status != workflow.StatusPending {
		rec.Status = status
		if status == workflow.StatusFailed {
			rec.SetFailed("persist: upstream unavailable", "network")
			rec.CurrentStage = "persist"
		}
		if err := st.UpdateRecord(context.Background(), rec, rec.Version); err != nil {
			t.Fatalf("UpdateRecord failed: %v", err)
		}
	}
	return rec
}

func TestWorkflowServiceListAndDescribe(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	rec := createRecord(t, st, workflow.StatusPending)
	rec.Metadata.AppendHistory("extract", workflow.HistoryCompleted, "")
	if err := st.UpdateRecord(ctx, rec, rec.Version); err != nil {
		t.Fatalf("UpdateRecord failed: %v", err)
	}

	views, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("unexpected view count: %d", len(views))
	}
	if views[0].Status != string(workflow.StatusPending) {
		t.Fatalf("unexpected status: %q", views[0].Status)
	}
	if views[0].CreatedAt == "" || views[0].UpdatedAt == "" {
		t.Fatalf("expected timestamps to be formatted")
	}

	view, err := svc.Describe(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Describe returned error: %v", err)
	}
	if view == nil {
		t.Fatal("expected view for existing workflow")
	}
	if len(view.History) != 1 || view.History[0].Stage != "extract" {
		t.Fatalf("unexpected history: %+v", view.History)
	}

	missing, err := svc.Describe(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil view for missing workflow, got %+v err %v", missing, err)
	}
}

func TestWorkflowServiceListFiltersByStatus(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	createRecord(t, st, workflow.StatusPending)
	createRecord(t, st, workflow.StatusFailed)

	views, err := svc.List(ctx, workflow.StatusFailed)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("unexpected view count: %d", len(views))
	}
	if views[0].ErrorCategory != "network" {
		t.Fatalf("unexpected error category: %q", views[0].ErrorCategory)
	}
}

func TestWorkflowServiceTenantStatus(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	rec := createRecord(t, st, workflow.StatusFailed)
	view, err := svc.TenantStatus(ctx, rec.ID)
	if err != nil {
		t.Fatalf("TenantStatus returned error: %v", err)
	}
	if view.State != string(workflow.TenantRetryAvailable) {
		t.Fatalf("unexpected tenant state: %q", view.State)
	}
	if view.CurrentStage != "Persist" {
		t.Fatalf("unexpected stage label: %q", view.CurrentStage)
	}
}

func TestWorkflowServiceReset(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	rec := createRecord(t, st, workflow.StatusFailed)
	ok, err := svc.Reset(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected reset to apply")
	}

	fresh, err := st.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if fresh.Status != workflow.StatusPending {
		t.Fatalf("unexpected status after reset: %q", fresh.Status)
	}
	if fresh.ErrorMessage != "" || fresh.ErrorCategory != "" {
		t.Fatalf("expected error fields cleared, got %q/%q", fresh.ErrorMessage, fresh.ErrorCategory)
	}

	ok, err = svc.Reset(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if ok {
		t.Fatal("expected second reset to be a no-op")
	}
}

func TestWorkflowServiceRetryDeadLetter(t *testing.T) {
	svc, st, dispatcher := newTestService(t)
	ctx := context.Background()

	rec := createRecord(t, st, workflow.StatusFailed)
	entry := &workflow.DeadLetterEntry{
		WorkflowID:    rec.ID,
		StageName:     "persist",
		ErrorCategory: "network",
		ErrorMessage:  "upstream unavailable",
		AttemptCount:  3,
		FirstFailedAt: time.Now().UTC(),
		CanRetry:      true,
	}
	if err := st.AddDeadLetter(ctx, entry); err != nil {
		t.Fatalf("AddDeadLetter failed: %v", err)
	}

	result, err := svc.RetryDeadLetter(ctx, entry.ID)
	if err != nil {
		t.Fatalf("RetryDeadLetter returned error: %v", err)
	}
	if result.Outcome != api.RetryDispatched {
		t.Fatalf("unexpected outcome: %q", result.Outcome)
	}
	if len(dispatcher.jobs) != 1 {
		t.Fatalf("unexpected job count: %d", len(dispatcher.jobs))
	}
	job := dispatcher.jobs[0]
	if job.WorkflowID != rec.ID || job.Stage != "persist" {
		t.Fatalf("unexpected job: %+v", job)
	}

	fresh, err := st.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if fresh.Status != workflow.StatusProcessing {
		t.Fatalf("unexpected status after retry: %q", fresh.Status)
	}
	if fresh.CurrentStage != "persist" {
		t.Fatalf("unexpected current stage: %q", fresh.CurrentStage)
	}
	if fresh.ErrorMessage != "" || fresh.CompletedAt != nil {
		t.Fatal("expected failure fields cleared")
	}

	again, err := svc.RetryDeadLetter(ctx, entry.ID)
	if err != nil {
		t.Fatalf("RetryDeadLetter returned error: %v", err)
	}
	if again.Outcome != api.RetryRecordNotFailed {
		t.Fatalf("unexpected repeat outcome: %q", again.Outcome)
	}
	if len(dispatcher.jobs) != 1 {
		t.Fatalf("repeat retry should not dispatch, got %d jobs", len(dispatcher.jobs))
	}
}

func TestWorkflowServiceRetryDeadLetterOutcomes(t *testing.T) {
	svc, st, dispatcher := newTestService(t)
	ctx := context.Background()

	result, err := svc.RetryDeadLetter(ctx, 404)
	if err != nil {
		t.Fatalf("RetryDeadLetter returned error: %v", err)
	}
	if result.Outcome != api.RetryEntryNotFound {
		t.Fatalf("unexpected outcome: %q", result.Outcome)
	}

	rec := createRecord(t, st, workflow.StatusFailed)
	entry := &workflow.DeadLetterEntry{
		WorkflowID:    rec.ID,
		StageName:     "extract",
		ErrorCategory: "validation",
		ErrorMessage:  "malformed document",
		AttemptCount:  1,
		FirstFailedAt: time.Now().UTC(),
		CanRetry:      false,
	}
	if err := st.AddDeadLetter(ctx, entry); err != nil {
		t.Fatalf("AddDeadLetter failed: %v", err)
	}

	result, err = svc.RetryDeadLetter(ctx, entry.ID)
	if err != nil {
		t.Fatalf("RetryDeadLetter returned error: %v", err)
	}
	if result.Outcome != api.RetryNotRetryable {
		t.Fatalf("unexpected outcome: %q", result.Outcome)
	}
	if len(dispatcher.jobs) != 0 {
		t.Fatalf("non-retryable entry should not dispatch, got %d jobs", len(dispatcher.jobs))
	}
}

func TestWorkflowServiceDeadLettersAndHealth(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	rec := createRecord(t, st, workflow.StatusFailed)
	entry := &workflow.DeadLetterEntry{
		WorkflowID:    rec.ID,
		StageName:     "draft",
		ErrorCategory: "network",
		ErrorMessage:  "timeout",
		AttemptCount:  3,
		FirstFailedAt: time.Now().UTC(),
		CanRetry:      true,
	}
	if err := st.AddDeadLetter(ctx, entry); err != nil {
		t.Fatalf("AddDeadLetter failed: %v", err)
	}

	views, err := svc.DeadLetters(ctx, false)
	if err != nil {
		t.Fatalf("DeadLetters returned error: %v", err)
	}
	if len(views) != 1 || views[0].StageName != "draft" {
		t.Fatalf("unexpected dead letters: %+v", views)
	}
	if views[0].FirstFailedAt == "" {
		t.Fatal("expected firstFailedAt to be formatted")
	}

	health, err := svc.Health(ctx)
	if err != nil {
		t.Fatalf("Health returned error: %v", err)
	}
	if health.Total != 1 || health.Failed != 1 || health.DeadLetters != 1 {
		t.Fatalf("unexpected health summary: %+v", health)
	}
}

func TestWorkflowServiceNilReceivers(t *testing.T) {
	var svc *api.WorkflowService
	ctx := context.Background()

	if views, err := svc.List(ctx); err != nil || views != nil {
		t.Fatalf("nil service List should no-op, got %+v err %v", views, err)
	}
	if view, err := svc.Describe(ctx, "id"); err != nil || view != nil {
		t.Fatalf("nil service Describe should no-op, got %+v err %v", view, err)
	}
	if ok, err := svc.Reset(ctx, "id"); err != nil || ok {
		t.Fatalf("nil service Reset should no-op, got %v err %v", ok, err)
	}
}
