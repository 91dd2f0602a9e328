// Package broker provides the stage job queue behind the distributed
// executor. Two drivers exist: an in-process memory driver used by the
// sequential deployment mode and tests, and a NATS JetStream driver for
// multi-node deployments. Both deliver jobs at-least-once; consumers
// are responsible for making their work idempotent.
package broker

import (
	"context"
	"encoding/json"
	"time"
)

// Job is the unit of work flowing between stages. Payload carries the
// accumulated pipeline output from previous stages.
type Job struct {
	WorkflowID string         `json:"workflow_id"`
	SubjectID  string         `json:"subject_id"`
	TenantID   string         `json:"tenant_id"`
	Stage      string         `json:"stage"`
	Attempt    int            `json:"attempt"`
	Payload    map[string]any `json:"payload,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// ToJSON serializes the job for the wire.
func (j *Job) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}

// FromJSON deserializes a job from the wire.
func (j *Job) FromJSON(data []byte) error {
	return json.Unmarshal(data, j)
}

// Action tells the broker what to do with a delivered job.
type Action int

const (
	// Done acknowledges the job; it will not be redelivered.
	Done Action = iota
	// Retry schedules the job for redelivery after Decision.Delay.
	Retry
	// Drop discards the job without processing. Used for poison
	// payloads that can never succeed.
	Drop
)

// Decision is the consumer's verdict on a delivered job.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Handler consumes one job delivery. The job's Attempt field reflects
// the broker's delivery count, starting at 1.
type Handler func(ctx context.Context, job Job) Decision

// Broker is the stage queue contract shared by both drivers.
type Broker interface {
	// Enqueue publishes a job to its stage queue.
	Enqueue(ctx context.Context, job Job) error
	// Consume registers a handler for a stage's queue. Deliveries run
	// until the broker closes.
	Consume(ctx context.Context, stage string, fn Handler) error
	Close() error
}
