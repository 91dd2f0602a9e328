package workflow

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a workflow record.
type Status string

const (
	StatusPending              Status = "pending"
	StatusProcessing           Status = "processing"
	StatusCompleted            Status = "completed"
	StatusCompletedNeedsReview Status = "completed_needs_review"
	StatusFailed               Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusCompletedNeedsReview,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status permits no further automatic progress.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedNeedsReview, StatusFailed:
		return true
	default:
		return false
	}
}

// Record represents one document-processing workflow persisted in SQLite.
// Status transitions only move forward (pending -> processing -> terminal);
// failed -> pending happens only through an explicit operator reset.
type Record struct {
	ID              string
	SubjectID       string
	TenantID        string
	Status          Status
	CurrentStage    string
	StagesCompleted int
	StagesTotal     int
	// ProgressPercent is advisory only and never drives control flow.
	ProgressPercent float64
	Metadata        Metadata
	ErrorMessage    string
	ErrorCategory   string
	NeedsReview     bool
	ReviewReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	// Version increments on every store update and backs the
	// compare-and-swap discipline.
	Version int64
}

// SetProgress recomputes the advisory progress fields after a stage completes.
func (r *Record) SetProgress(completed, total int) {
	r.StagesCompleted = completed
	r.StagesTotal = total
	if total <= 0 {
		r.ProgressPercent = 0
		return
	}
	r.ProgressPercent = float64(completed) / float64(total) * 100
}

// SetFailed marks the record as failed with the given message and category.
func (r *Record) SetFailed(message, category string) {
	now := time.Now().UTC()
	r.Status = StatusFailed
	r.ErrorMessage = message
	r.ErrorCategory = category
	r.CompletedAt = &now
}

// Complete marks the record terminal-successful, honoring a manual-review flag.
func (r *Record) Complete() {
	now := time.Now().UTC()
	if r.NeedsReview {
		r.Status = StatusCompletedNeedsReview
	} else {
		r.Status = StatusCompleted
	}
	r.ProgressPercent = 100
	r.StagesCompleted = r.StagesTotal
	r.CompletedAt = &now
}

// DeadLetterEntry is a durable record of a stage failure that will not be
// retried automatically.
type DeadLetterEntry struct {
	ID            int64
	WorkflowID    string
	StageName     string
	ErrorCategory string
	ErrorMessage  string
	AttemptCount  int
	FirstFailedAt time.Time
	CanRetry      bool
	RetriedAt     *time.Time
}
