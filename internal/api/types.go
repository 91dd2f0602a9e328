package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// WorkflowView is the operator-facing representation of a workflow record.
type WorkflowView struct {
	ID              string         `json:"id"`
	SubjectID       string         `json:"subjectId"`
	TenantID        string         `json:"tenantId"`
	Status          string         `json:"status"`
	CurrentStage    string         `json:"currentStage,omitempty"`
	StagesCompleted int            `json:"stagesCompleted"`
	StagesTotal     int            `json:"stagesTotal"`
	ProgressPercent float64        `json:"progressPercent"`
	NeedsReview     bool           `json:"needsReview"`
	ReviewReason    string         `json:"reviewReason,omitempty"`
	ErrorMessage    string         `json:"errorMessage,omitempty"`
	ErrorCategory   string         `json:"errorCategory,omitempty"`
	AutoFixApplied  bool           `json:"autoFixApplied,omitempty"`
	AutoFixReason   string         `json:"autoFixReason,omitempty"`
	CreatedAt       string         `json:"createdAt,omitempty"`
	UpdatedAt       string         `json:"updatedAt,omitempty"`
	CompletedAt     string         `json:"completedAt,omitempty"`
	History         []HistoryEntry `json:"history,omitempty"`
}

// HistoryEntry is one ordered stage transition in a workflow's audit trail.
type HistoryEntry struct {
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// DeadLetterView is the operator-facing representation of a dead-letter entry.
type DeadLetterView struct {
	ID            int64  `json:"id"`
	WorkflowID    string `json:"workflowId"`
	StageName     string `json:"stageName"`
	ErrorCategory string `json:"errorCategory,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
	AttemptCount  int    `json:"attemptCount"`
	CanRetry      bool   `json:"canRetry"`
	FirstFailedAt string `json:"firstFailedAt,omitempty"`
	RetriedAt     string `json:"retriedAt,omitempty"`
}

// TenantStatusView is the plain-language projection surfaced to the
// originating tenant. It deliberately omits internal error text.
type TenantStatusView struct {
	WorkflowID   string `json:"workflowId"`
	SubjectID    string `json:"subjectId"`
	State        string `json:"state"`
	CurrentStage string `json:"currentStage,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
}

// WorkflowListResponse wraps the workflow listing payload.
type WorkflowListResponse struct {
	Workflows []WorkflowView `json:"workflows"`
}

// WorkflowResponse wraps a single workflow payload.
type WorkflowResponse struct {
	Workflow WorkflowView `json:"workflow"`
}

// DeadLetterListResponse wraps the dead-letter listing payload.
type DeadLetterListResponse struct {
	Entries []DeadLetterView `json:"entries"`
}

// LogPageResponse is one page of daemon log lines. NextOffset is the byte
// position to pass back as offset to continue reading.
type LogPageResponse struct {
	Lines      []string `json:"lines"`
	NextOffset int64    `json:"nextOffset"`
}

// IngestRequest is the body accepted by the ingestion endpoint.
type IngestRequest struct {
	SubjectID string         `json:"subjectId"`
	TenantID  string         `json:"tenantId"`
	Payload   map[string]any `json:"payload,omitempty"`
	// Inline requests an immediate sequential run instead of waiting for
	// the scheduler to dispatch the workflow.
	Inline bool `json:"inline,omitempty"`
}

// IngestResponse reports the workflow created for an ingested document.
type IngestResponse struct {
	Workflow WorkflowView `json:"workflow"`
	Inline   bool         `json:"inline"`
}

// HealthView aggregates store counts for diagnostic output.
type HealthView struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Processing  int `json:"processing"`
	Completed   int `json:"completed"`
	NeedsReview int `json:"needsReview"`
	Failed      int `json:"failed"`
	DeadLetters int `json:"deadLetters"`
}
