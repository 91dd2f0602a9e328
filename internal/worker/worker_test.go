package worker_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"docflow/internal/broker"
	"docflow/internal/config"
	"docflow/internal/services"
	"docflow/internal/stage"
	"docflow/internal/store"
	"docflow/internal/worker"
	"docflow/internal/workflow"
)

type captureBroker struct {
	mu   sync.Mutex
	jobs []broker.Job
}

func (c *captureBroker) Enqueue(_ context.Context, job broker.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, job)
	return nil
}

func (c *captureBroker) Consume(context.Context, string, broker.Handler) error { return nil }
func (c *captureBroker) Close() error                                          { return nil }

func (c *captureBroker) snapshot() []broker.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]broker.Job, len(c.jobs))
	copy(out, c.jobs)
	return out
}

type stubHandler struct {
	mu     sync.Mutex
	calls  int
	result stage.Result
	err    error
}

func (h *stubHandler) Execute(_ context.Context, _ stage.Request) (stage.Result, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	return h.result, h.err
}

func (h *stubHandler) HealthCheck(context.Context) stage.Health { return stage.Healthy("stub") }

func (h *stubHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type env struct {
	store    *store.Store
	broker   *captureBroker
	registry *stage.Registry
	worker   *worker.Worker
	handlers map[string]*stubHandler
}

func setup(t *testing.T) *env {
	t.Helper()
	st, err := store.OpenPath(filepath.Join(t.TempDir(), "docflow.db"))
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.Pipeline.Stages = []string{"extract", "persist", "finalize"}
	reg := stage.NewRegistry(cfg.Pipeline.Stages)
	handlers := make(map[string]*stubHandler)
	for _, name := range reg.Order() {
		h := &stubHandler{result: stage.Result{Confidence: 0.99}}
		handlers[name] = h
		if err := reg.Register(name, h); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	cb := &captureBroker{}
	return &env{
		store:    st,
		broker:   cb,
		registry: reg,
		worker:   worker.New(st, cb, reg, cfg, nil, nil),
		handlers: handlers,
	}
}

func (e *env) createProcessing(t *testing.T, stageName string) *workflow.Record {
	t.Helper()
	rec := &workflow.Record{SubjectID: "subj-1", TenantID: "tenant-a", StagesTotal: 3}
	if err := e.store.CreateRecord(context.Background(), rec); err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	rec.Status = workflow.StatusProcessing
	rec.CurrentStage = stageName
	if err := e.store.UpdateRecord(context.Background(), rec, rec.Version); err != nil {
		t.Fatalf("UpdateRecord failed: %v", err)
	}
	return rec
}

func jobFor(rec *workflow.Record, stageName string, attempt int) broker.Job {
	return broker.Job{
		WorkflowID: rec.ID,
		SubjectID:  rec.SubjectID,
		TenantID:   rec.TenantID,
		Stage:      stageName,
		Attempt:    attempt,
	}
}

func TestHandleSuccessAdvancesAndChains(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	rec := e.createProcessing(t, "extract")

	e.handlers["extract"].result = stage.Result{
		Output:     map[string]any{"fields": map[string]any{"total": "12.40"}},
		Confidence: 0.97,
	}

	decision := e.worker.Handle(ctx, jobFor(rec, "extract", 1))
	if decision.Action != broker.Done {
		t.Fatalf("expected Done, got %v", decision.Action)
	}

	loaded, err := e.store.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if loaded.CurrentStage != "persist" {
		t.Fatalf("expected persist, got %q", loaded.CurrentStage)
	}
	if loaded.Status != workflow.StatusProcessing {
		t.Fatalf("expected processing, got %s", loaded.Status)
	}
	if loaded.StagesCompleted != 1 {
		t.Fatalf("expected 1 completed stage, got %d", loaded.StagesCompleted)
	}
	if _, ok := loaded.Metadata.Payload["fields"]; !ok {
		t.Fatalf("stage output not persisted: %+v", loaded.Metadata.Payload)
	}
	if len(loaded.Metadata.History) != 1 || loaded.Metadata.History[0].Status != workflow.HistoryCompleted {
		t.Fatalf("unexpected history: %+v", loaded.Metadata.History)
	}

	jobs := e.broker.snapshot()
	if len(jobs) != 1 || jobs[0].Stage != "persist" {
		t.Fatalf("expected chained persist job, got %+v", jobs)
	}
}

func TestFinalStageCompletesWorkflow(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	rec := e.createProcessing(t, "finalize")

	decision := e.worker.Handle(ctx, jobFor(rec, "finalize", 1))
	if decision.Action != broker.Done {
		t.Fatalf("expected Done, got %v", decision.Action)
	}

	loaded, err := e.store.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if loaded.Status != workflow.StatusCompleted {
		t.Fatalf("expected completed, got %s", loaded.Status)
	}
	if loaded.ProgressPercent != 100 {
		t.Fatalf("expected progress 100, got %v", loaded.ProgressPercent)
	}
	if loaded.CompletedAt == nil {
		t.Fatal("expected completion timestamp")
	}
	if len(e.broker.snapshot()) != 0 {
		t.Fatal("terminal stage must not chain")
	}
}

func TestGateMidConfidenceFlagsReview(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	rec := e.createProcessing(t, "extract")

	e.handlers["extract"].result = stage.Result{Confidence: 0.5}
	if d := e.worker.Handle(ctx, jobFor(rec, "extract", 1)); d.Action != broker.Done {
		t.Fatalf("expected Done, got %v", d.Action)
	}

	loaded, err := e.store.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if !loaded.NeedsReview {
		t.Fatal("expected needs-review flag")
	}
	if loaded.Status != workflow.StatusProcessing {
		t.Fatalf("review flag must not stop the pipeline, got %s", loaded.Status)
	}

	// Run the remaining stages; the terminal status must carry the flag.
	if d := e.worker.Handle(ctx, jobFor(rec, "persist", 1)); d.Action != broker.Done {
		t.Fatalf("persist: expected Done, got %v", d.Action)
	}
	if d := e.worker.Handle(ctx, jobFor(rec, "finalize", 1)); d.Action != broker.Done {
		t.Fatalf("finalize: expected Done, got %v", d.Action)
	}

	loaded, err = e.store.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if loaded.Status != workflow.StatusCompletedNeedsReview {
		t.Fatalf("expected completed-needs-review, got %s", loaded.Status)
	}
}

func TestResetRerunReDecidesReviewFlag(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	rec := e.createProcessing(t, "extract")

	// First run: mid-confidence extraction flags review, then persist
	// fails terminally.
	e.handlers["extract"].result = stage.Result{Confidence: 0.5}
	if d := e.worker.Handle(ctx, jobFor(rec, "extract", 1)); d.Action != broker.Done {
		t.Fatalf("extract: expected Done, got %v", d.Action)
	}
	e.handlers["persist"].err = fmt.Errorf("missing subject id: %w", services.ErrValidation)
	if d := e.worker.Handle(ctx, jobFor(rec, "persist", 1)); d.Action != broker.Done {
		t.Fatalf("persist: expected Done, got %v", d.Action)
	}

	reset, err := e.store.ResetFailed(ctx, rec.ID)
	if err != nil || !reset {
		t.Fatalf("ResetFailed = %v, %v", reset, err)
	}
	loaded, err := e.store.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if loaded.NeedsReview || loaded.ReviewReason != "" {
		t.Fatalf("reset must clear review flag, got needsReview=%v reason=%q",
			loaded.NeedsReview, loaded.ReviewReason)
	}

	// Second run at high confidence must complete cleanly.
	e.handlers["extract"].result = stage.Result{Confidence: 0.95}
	e.handlers["persist"].err = nil
	for _, name := range []string{"extract", "persist", "finalize"} {
		if d := e.worker.Handle(ctx, jobFor(loaded, name, 1)); d.Action != broker.Done {
			t.Fatalf("%s: expected Done, got %v", name, d.Action)
		}
	}

	loaded, err = e.store.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if loaded.Status != workflow.StatusCompleted {
		t.Fatalf("status after auto-approved re-run = %q (needsReview=%v reason=%q), want completed",
			loaded.Status, loaded.NeedsReview, loaded.ReviewReason)
	}
}

func TestGateLowConfidenceFailsWorkflow(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	rec := e.createProcessing(t, "extract")

	e.handlers["extract"].result = stage.Result{Confidence: 0.1}
	if d := e.worker.Handle(ctx, jobFor(rec, "extract", 1)); d.Action != broker.Done {
		t.Fatalf("expected Done, got %v", d.Action)
	}

	loaded, err := e.store.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if loaded.Status != workflow.StatusFailed {
		t.Fatalf("expected failed, got %s", loaded.Status)
	}
	if loaded.ErrorCategory != string(services.CategoryLowConfidence) {
		t.Fatalf("expected low-confidence category, got %q", loaded.ErrorCategory)
	}
	if len(e.broker.snapshot()) != 0 {
		t.Fatal("rejected workflow must not chain")
	}

	// No automatic retry path for rejection, so no dead letter either.
	entries, err := e.store.ListDeadLetters(ctx, true)
	if err != nil {
		t.Fatalf("ListDeadLetters failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejection must not dead-letter, got %+v", entries)
	}
}

func TestTerminalRecordJobIsNoOp(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	rec := e.createProcessing(t, "finalize")
	if d := e.worker.Handle(ctx, jobFor(rec, "finalize", 1)); d.Action != broker.Done {
		t.Fatalf("expected Done, got %v", d.Action)
	}
	before := e.handlers["finalize"].callCount()

	// Redelivery of the same job after completion must not execute.
	if d := e.worker.Handle(ctx, jobFor(rec, "finalize", 2)); d.Action != broker.Done {
		t.Fatalf("expected Done on replay, got %v", d.Action)
	}
	if e.handlers["finalize"].callCount() != before {
		t.Fatal("handler executed on terminal workflow")
	}
}

// inspectingHandler snapshots the record's liveness timestamp as seen
// from inside stage execution.
type inspectingHandler struct {
	store *store.Store
	seen  time.Time
}

func (h *inspectingHandler) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	rec, err := h.store.GetRecord(ctx, req.WorkflowID)
	if err != nil {
		return stage.Result{}, err
	}
	h.seen = rec.UpdatedAt
	return stage.Result{Confidence: 0.99}, nil
}

func (h *inspectingHandler) HealthCheck(context.Context) stage.Health { return stage.Healthy("stub") }

func TestHandleRefreshesLivenessBeforeExecute(t *testing.T) {
	st, err := store.OpenPath(filepath.Join(t.TempDir(), "docflow.db"))
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.Pipeline.Stages = []string{"finalize"}
	reg := stage.NewRegistry(cfg.Pipeline.Stages)
	h := &inspectingHandler{store: st}
	if err := reg.Register("finalize", h); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	w := worker.New(st, &captureBroker{}, reg, cfg, nil, nil)

	ctx := context.Background()
	rec := &workflow.Record{SubjectID: "subj-1", TenantID: "tenant-a", StagesTotal: 1}
	if err := st.CreateRecord(ctx, rec); err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	rec.Status = workflow.StatusProcessing
	rec.CurrentStage = "finalize"
	if err := st.UpdateRecord(ctx, rec, rec.Version); err != nil {
		t.Fatalf("UpdateRecord failed: %v", err)
	}
	before := rec.UpdatedAt

	// A slow stage must look alive to the stuck detector while it runs,
	// so the timestamp refresh has to land before the handler call.
	time.Sleep(10 * time.Millisecond)
	if d := w.Handle(ctx, jobFor(rec, "finalize", 1)); d.Action != broker.Done {
		t.Fatalf("expected Done, got %v", d.Action)
	}
	if !h.seen.After(before) {
		t.Fatalf("expected refreshed updated_at inside stage, got %s (was %s)", h.seen, before)
	}
}

func TestStaleStageJobIsNoOp(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	rec := e.createProcessing(t, "persist")

	if d := e.worker.Handle(ctx, jobFor(rec, "extract", 1)); d.Action != broker.Done {
		t.Fatalf("expected Done, got %v", d.Action)
	}
	if e.handlers["extract"].callCount() != 0 {
		t.Fatal("stale stage handler must not execute")
	}
}

func TestRetryableFailureRequestsRedelivery(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	rec := e.createProcessing(t, "persist")

	e.handlers["persist"].err = fmt.Errorf("write subject: %w", services.ErrNetwork)

	decision := e.worker.Handle(ctx, jobFor(rec, "persist", 1))
	if decision.Action != broker.Retry {
		t.Fatalf("expected Retry, got %v", decision.Action)
	}
	if decision.Delay <= 0 {
		t.Fatalf("expected positive backoff, got %s", decision.Delay)
	}

	loaded, err := e.store.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if loaded.Status != workflow.StatusProcessing {
		t.Fatalf("record must stay processing while retries remain, got %s", loaded.Status)
	}
	if len(loaded.Metadata.History) != 1 || loaded.Metadata.History[0].Status != workflow.HistoryFailed {
		t.Fatalf("expected failed history entry, got %+v", loaded.Metadata.History)
	}
}

func TestExhaustedRetriesDeadLetter(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	rec := e.createProcessing(t, "persist")

	e.handlers["persist"].err = fmt.Errorf("write subject: %w", services.ErrThrottle)

	// Attempt 3 of maxAttempts 3 must park the job.
	decision := e.worker.Handle(ctx, jobFor(rec, "persist", 3))
	if decision.Action != broker.Done {
		t.Fatalf("expected Done after exhaustion, got %v", decision.Action)
	}

	loaded, err := e.store.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if loaded.Status != workflow.StatusFailed {
		t.Fatalf("expected failed, got %s", loaded.Status)
	}

	entries, err := e.store.ListDeadLetters(ctx, false)
	if err != nil {
		t.Fatalf("ListDeadLetters failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(entries))
	}
	entry := entries[0]
	if entry.WorkflowID != rec.ID || entry.StageName != "persist" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.AttemptCount != 3 {
		t.Fatalf("expected attempt count 3, got %d", entry.AttemptCount)
	}
	if !entry.CanRetry {
		t.Fatal("throttle failures should remain manually retryable")
	}
}

func TestValidationFailureDeadLettersImmediately(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	rec := e.createProcessing(t, "persist")

	e.handlers["persist"].err = fmt.Errorf("missing subject id: %w", services.ErrValidation)

	decision := e.worker.Handle(ctx, jobFor(rec, "persist", 1))
	if decision.Action != broker.Done {
		t.Fatalf("expected Done, got %v", decision.Action)
	}

	entries, err := e.store.ListDeadLetters(ctx, false)
	if err != nil {
		t.Fatalf("ListDeadLetters failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected immediate dead letter, got %d", len(entries))
	}
	if entries[0].CanRetry {
		t.Fatal("validation failures are not retryable")
	}
}
