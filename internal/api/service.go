package api

import (
	"context"
	"errors"

	"docflow/internal/broker"
	"docflow/internal/store"
	"docflow/internal/workflow"
)

// casAttempts bounds optimistic-update retries against concurrent writers.
const casAttempts = 5

// WorkflowStore abstracts the persistence interactions the API needs.
type WorkflowStore interface {
	GetRecord(ctx context.Context, id string) (*workflow.Record, error)
	UpdateRecord(ctx context.Context, rec *workflow.Record, expectedVersion int64) error
	ListByStatus(ctx context.Context, statuses ...workflow.Status) ([]*workflow.Record, error)
	ResetFailed(ctx context.Context, id string) (bool, error)
	ListDeadLetters(ctx context.Context, includeRetried bool) ([]*workflow.DeadLetterEntry, error)
	GetDeadLetter(ctx context.Context, id int64) (*workflow.DeadLetterEntry, error)
	MarkDeadLetterRetried(ctx context.Context, id int64) (bool, error)
	Health(ctx context.Context) (store.HealthSummary, error)
}

// Dispatcher re-enqueues stage jobs for retried workflows.
type Dispatcher interface {
	Enqueue(ctx context.Context, job broker.Job) error
}

// WorkflowService exposes operator-facing workflow operations returning API DTOs.
type WorkflowService struct {
	store  WorkflowStore
	broker Dispatcher
}

// NewWorkflowService constructs a WorkflowService around the provided store
// and dispatcher. The dispatcher may be nil for read-only consumers.
func NewWorkflowService(st WorkflowStore, dispatcher Dispatcher) *WorkflowService {
	if st == nil {
		return nil
	}
	return &WorkflowService{store: st, broker: dispatcher}
}

// List returns workflows filtered by status, or all workflows when no
// statuses are given.
func (s *WorkflowService) List(ctx context.Context, statuses ...workflow.Status) ([]WorkflowView, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	if len(statuses) == 0 {
		statuses = workflow.AllStatuses()
	}
	records, err := s.store.ListByStatus(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromRecords(records), nil
}

// Describe fetches a single workflow including its stage history.
func (s *WorkflowService) Describe(ctx context.Context, id string) (*WorkflowView, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	view := FromRecord(rec)
	return &view, nil
}

// TenantStatus returns the plain-language tenant projection of a workflow.
func (s *WorkflowService) TenantStatus(ctx context.Context, id string) (*TenantStatusView, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	view := TenantStatusFromRecord(rec)
	return &view, nil
}

// Health aggregates store counts for diagnostic output.
func (s *WorkflowService) Health(ctx context.Context) (HealthView, error) {
	if s == nil || s.store == nil {
		return HealthView{}, nil
	}
	summary, err := s.store.Health(ctx)
	if err != nil {
		return HealthView{}, err
	}
	return HealthView{
		Total:       summary.Total,
		Pending:     summary.Pending,
		Processing:  summary.Processing,
		Completed:   summary.Completed,
		NeedsReview: summary.NeedsReview,
		Failed:      summary.Failed,
		DeadLetters: summary.DeadLetters,
	}, nil
}

// Reset moves a failed workflow back to pending so the scheduler picks it up
// from the first stage. Returns false when the workflow was not failed.
func (s *WorkflowService) Reset(ctx context.Context, id string) (bool, error) {
	if s == nil || s.store == nil {
		return false, nil
	}
	return s.store.ResetFailed(ctx, id)
}

// DeadLetters lists dead-letter entries, optionally including already
// retried ones.
func (s *WorkflowService) DeadLetters(ctx context.Context, includeRetried bool) ([]DeadLetterView, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	entries, err := s.store.ListDeadLetters(ctx, includeRetried)
	if err != nil {
		return nil, err
	}
	return FromDeadLetters(entries), nil
}

// RetryOutcome describes the result of a dead-letter retry request.
type RetryOutcome string

const (
	RetryDispatched      RetryOutcome = "dispatched"
	RetryEntryNotFound   RetryOutcome = "entry_not_found"
	RetryAlreadyRetried  RetryOutcome = "already_retried"
	RetryNotRetryable    RetryOutcome = "not_retryable"
	RetryRecordNotFound  RetryOutcome = "workflow_not_found"
	RetryRecordNotFailed RetryOutcome = "workflow_not_failed"
)

// RetryResult reports what happened to a single dead-letter retry.
type RetryResult struct {
	EntryID    int64        `json:"entryId"`
	WorkflowID string       `json:"workflowId,omitempty"`
	Stage      string       `json:"stage,omitempty"`
	Outcome    RetryOutcome `json:"outcome"`
}

// RetryDeadLetter re-dispatches the failed stage of a dead-lettered workflow
// with a fresh attempt budget. The entry is consumed exactly once; concurrent
// retries of the same entry resolve to already_retried.
func (s *WorkflowService) RetryDeadLetter(ctx context.Context, entryID int64) (RetryResult, error) {
	result := RetryResult{EntryID: entryID}
	if s == nil || s.store == nil || s.broker == nil {
		return result, errors.New("retry service unavailable")
	}

	entry, err := s.store.GetDeadLetter(ctx, entryID)
	if err != nil {
		return result, err
	}
	if entry == nil {
		result.Outcome = RetryEntryNotFound
		return result, nil
	}
	result.WorkflowID = entry.WorkflowID
	result.Stage = entry.StageName
	if !entry.CanRetry {
		result.Outcome = RetryNotRetryable
		return result, nil
	}

	rec, err := s.store.GetRecord(ctx, entry.WorkflowID)
	if err != nil {
		return result, err
	}
	if rec == nil {
		result.Outcome = RetryRecordNotFound
		return result, nil
	}
	if rec.Status != workflow.StatusFailed {
		result.Outcome = RetryRecordNotFailed
		return result, nil
	}

	retried, err := s.store.MarkDeadLetterRetried(ctx, entryID)
	if err != nil {
		return result, err
	}
	if !retried {
		result.Outcome = RetryAlreadyRetried
		return result, nil
	}

	if err := s.reviveWorkflow(ctx, entry); err != nil {
		return result, err
	}
	if err := s.broker.Enqueue(ctx, broker.Job{
		WorkflowID: rec.ID,
		SubjectID:  rec.SubjectID,
		TenantID:   rec.TenantID,
		Stage:      entry.StageName,
	}); err != nil {
		return result, err
	}
	result.Outcome = RetryDispatched
	return result, nil
}

// reviveWorkflow moves a failed record back to processing at the dead-lettered
// stage so the redelivered job is not dropped as terminal.
func (s *WorkflowService) reviveWorkflow(ctx context.Context, entry *workflow.DeadLetterEntry) error {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		rec, err := s.store.GetRecord(ctx, entry.WorkflowID)
		if err != nil {
			return err
		}
		if rec == nil || rec.Status != workflow.StatusFailed {
			return nil
		}
		rec.Status = workflow.StatusProcessing
		rec.CurrentStage = entry.StageName
		rec.ErrorMessage = ""
		rec.ErrorCategory = ""
		rec.CompletedAt = nil
		rec.Metadata.AppendHistory(entry.StageName, workflow.HistoryStarted, "retried from dead letter")
		if err := s.store.UpdateRecord(ctx, rec, rec.Version); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}
