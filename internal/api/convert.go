package api

import (
	"time"

	"docflow/internal/workflow"
)

// FromRecord converts a workflow record to its API representation.
func FromRecord(rec *workflow.Record) WorkflowView {
	if rec == nil {
		return WorkflowView{}
	}
	view := WorkflowView{
		ID:              rec.ID,
		SubjectID:       rec.SubjectID,
		TenantID:        rec.TenantID,
		Status:          string(rec.Status),
		CurrentStage:    rec.CurrentStage,
		StagesCompleted: rec.StagesCompleted,
		StagesTotal:     rec.StagesTotal,
		ProgressPercent: rec.ProgressPercent,
		NeedsReview:     rec.NeedsReview,
		ReviewReason:    rec.ReviewReason,
		ErrorMessage:    rec.ErrorMessage,
		ErrorCategory:   rec.ErrorCategory,
		AutoFixApplied:  rec.Metadata.AutoFixApplied,
		AutoFixReason:   rec.Metadata.AutoFixReason,
		CreatedAt:       formatTime(rec.CreatedAt),
		UpdatedAt:       formatTime(rec.UpdatedAt),
	}
	if rec.CompletedAt != nil {
		view.CompletedAt = formatTime(*rec.CompletedAt)
	}
	if len(rec.Metadata.History) > 0 {
		view.History = make([]HistoryEntry, 0, len(rec.Metadata.History))
		for _, entry := range rec.Metadata.History {
			view.History = append(view.History, HistoryEntry{
				Stage:     entry.Stage,
				Status:    entry.Status,
				Timestamp: formatTime(entry.Timestamp),
				Detail:    entry.Detail,
			})
		}
	}
	return view
}

// FromRecords converts a slice of workflow records into API DTOs.
func FromRecords(records []*workflow.Record) []WorkflowView {
	if len(records) == 0 {
		return nil
	}
	out := make([]WorkflowView, 0, len(records))
	for _, rec := range records {
		out = append(out, FromRecord(rec))
	}
	return out
}

// FromDeadLetter converts a dead-letter entry to its API representation.
func FromDeadLetter(entry *workflow.DeadLetterEntry) DeadLetterView {
	if entry == nil {
		return DeadLetterView{}
	}
	view := DeadLetterView{
		ID:            entry.ID,
		WorkflowID:    entry.WorkflowID,
		StageName:     entry.StageName,
		ErrorCategory: entry.ErrorCategory,
		ErrorMessage:  entry.ErrorMessage,
		AttemptCount:  entry.AttemptCount,
		CanRetry:      entry.CanRetry,
		FirstFailedAt: formatTime(entry.FirstFailedAt),
	}
	if entry.RetriedAt != nil {
		view.RetriedAt = formatTime(*entry.RetriedAt)
	}
	return view
}

// FromDeadLetters converts a slice of dead-letter entries into API DTOs.
func FromDeadLetters(entries []*workflow.DeadLetterEntry) []DeadLetterView {
	if len(entries) == 0 {
		return nil
	}
	out := make([]DeadLetterView, 0, len(entries))
	for _, entry := range entries {
		out = append(out, FromDeadLetter(entry))
	}
	return out
}

// TenantStatusFromRecord projects a record into its tenant-facing view.
func TenantStatusFromRecord(rec *workflow.Record) TenantStatusView {
	if rec == nil {
		return TenantStatusView{}
	}
	return TenantStatusView{
		WorkflowID:   rec.ID,
		SubjectID:    rec.SubjectID,
		State:        string(workflow.Project(rec)),
		CurrentStage: workflow.StageLabel(rec.CurrentStage),
		UpdatedAt:    formatTime(rec.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
