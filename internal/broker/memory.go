package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"docflow/internal/logging"
)

// Memory is an in-process broker. Jobs are delivered on dispatcher
// goroutines per stage; retry decisions are honored with timers so the
// redelivery semantics match the JetStream driver closely enough for
// the executors not to care which one they run on.
type Memory struct {
	mu       sync.Mutex
	queues   map[string]chan Job
	handlers map[string]Handler
	logger   *slog.Logger
	depth    int
	workers  int
	closed   bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewMemory builds a memory broker with the given per-stage queue depth.
func NewMemory(depth int, logger *slog.Logger) *Memory {
	if depth <= 0 {
		depth = 256
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Memory{
		queues:   make(map[string]chan Job),
		handlers: make(map[string]Handler),
		logger:   logging.NewComponentLogger(logger, "broker"),
		depth:    depth,
		workers:  1,
		done:     make(chan struct{}),
	}
}

// WithConcurrency sets how many dispatcher goroutines serve each stage.
func (m *Memory) WithConcurrency(workers int) *Memory {
	if workers > 0 {
		m.workers = workers
	}
	return m
}

func (m *Memory) queue(stage string) chan Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[stage]
	if !ok {
		q = make(chan Job, m.depth)
		m.queues[stage] = q
	}
	return q
}

// Enqueue publishes a job to its stage queue. First deliveries carry
// attempt 1.
func (m *Memory) Enqueue(ctx context.Context, job Job) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("memory broker closed")
	}
	m.mu.Unlock()

	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	select {
	case m.queue(job.Stage) <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return fmt.Errorf("memory broker closed")
	}
}

// Consume starts the dispatcher goroutines for a stage queue.
func (m *Memory) Consume(ctx context.Context, stage string, fn Handler) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("memory broker closed")
	}
	if _, ok := m.handlers[stage]; ok {
		m.mu.Unlock()
		return fmt.Errorf("stage %q already has a consumer", stage)
	}
	m.handlers[stage] = fn
	m.mu.Unlock()

	q := m.queue(stage)
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for {
				select {
				case job := <-q:
					m.dispatch(ctx, stage, fn, job)
				case <-ctx.Done():
					return
				case <-m.done:
					return
				}
			}
		}()
	}
	return nil
}

func (m *Memory) dispatch(ctx context.Context, stage string, fn Handler, job Job) {
	decision := fn(ctx, job)
	switch decision.Action {
	case Retry:
		next := job
		next.Attempt++
		// Timers that fire after Close fall through to the done branch.
		time.AfterFunc(decision.Delay, func() {
			select {
			case m.queue(stage) <- next:
			case <-m.done:
			}
		})
	case Drop:
		m.logger.Warn("dropping job",
			logging.String(logging.FieldWorkflowID, job.WorkflowID),
			logging.String(logging.FieldStage, stage),
			logging.Int("attempt", job.Attempt))
	}
}

// Close shuts the broker down. Pending redelivery timers are cancelled.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	close(m.done)
	m.wg.Wait()
	return nil
}
