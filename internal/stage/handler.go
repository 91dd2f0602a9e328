package stage

import "context"

// Request carries the identifiers and accumulated pipeline payload a
// handler needs to execute one stage of a workflow.
type Request struct {
	WorkflowID string
	SubjectID  string
	TenantID   string
	Stage      string
	Attempt    int
	Input      map[string]any
}

// Result is returned by a handler on success. Output is merged into the
// payload handed to the next stage. Confidence is only meaningful for
// extraction-type stages; handlers that do not score their output leave
// it at zero.
type Result struct {
	Output     map[string]any
	Confidence float64
}

// Handler describes the contract the executors need from each stage.
type Handler interface {
	Execute(context.Context, Request) (Result, error)
	HealthCheck(context.Context) Health
}
