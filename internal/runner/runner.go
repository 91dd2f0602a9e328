// Package runner implements the sequential executor: one invocation
// drives a workflow through every remaining stage in-process, under a
// lease-based lock so a concurrent invocation (or the distributed
// executor) cannot run the same workflow at the same time.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docflow/internal/broker"
	"docflow/internal/config"
	"docflow/internal/lock"
	"docflow/internal/logging"
	"docflow/internal/notifications"
	"docflow/internal/stage"
	"docflow/internal/store"
	"docflow/internal/worker"
	"docflow/internal/workflow"
)

// Result reports how a sequential run ended.
type Result struct {
	// AlreadyProcessing means another holder had an active lease and
	// this invocation did nothing. Not an error.
	AlreadyProcessing bool
	Status            workflow.Status
}

// errClaimedElsewhere means the record is actively processing under the
// distributed executor, so this invocation must not touch its stages.
var errClaimedElsewhere = errors.New("workflow already dispatched")

// Runner executes a workflow's remaining stages back to back.
type Runner struct {
	store  *store.Store
	locks  *lock.Manager
	exec   *worker.Worker
	stuck  time.Duration
	logger *slog.Logger
}

// discardBroker satisfies the worker's chaining enqueue. The runner
// advances stages with its own loop, so chained jobs have nowhere to
// go and are dropped.
type discardBroker struct{}

func (discardBroker) Enqueue(context.Context, broker.Job) error             { return nil }
func (discardBroker) Consume(context.Context, string, broker.Handler) error { return nil }
func (discardBroker) Close() error                                          { return nil }

// New builds a sequential runner. holder identifies this process in
// lock records. The lease covers the whole pipeline, not one stage, so
// it is the stage lease plus the configured sequential margin.
func New(st *store.Store, reg *stage.Registry, cfg *config.Config, holder string, notifier notifications.Service, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		store:  st,
		locks:  lock.NewManager(st, holder, cfg.SequentialLease(), logger),
		exec:   worker.New(st, discardBroker{}, reg, cfg, notifier, logger),
		stuck:  cfg.StuckThreshold(),
		logger: logging.NewComponentLogger(logger, "runner"),
	}
}

// Run drives the workflow to a terminal status. An active lease held
// elsewhere returns Result{AlreadyProcessing: true} without error. The
// lock is always released with the terminal outcome, including when a
// stage panics or the context dies mid-pipeline.
func (r *Runner) Run(ctx context.Context, workflowID string) (Result, error) {
	handle, err := r.locks.Acquire(ctx, workflowID)
	if errors.Is(err, lock.ErrAlreadyHeld) {
		r.logger.Info("workflow already processing",
			logging.String(logging.FieldWorkflowID, workflowID))
		return Result{AlreadyProcessing: true}, nil
	}
	if err != nil {
		return Result{}, err
	}

	final := workflow.LockFailed
	defer func() {
		// Release must run even when the run's context is already
		// cancelled; a dangling running lock blocks the workflow until
		// the lease expires.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if rerr := r.locks.Release(releaseCtx, handle, final); rerr != nil {
			r.logger.Error("lock release failed",
				logging.String(logging.FieldWorkflowID, workflowID),
				logging.Error(rerr))
		}
	}()

	status, err := r.drive(ctx, workflowID)
	if errors.Is(err, errClaimedElsewhere) {
		final = workflow.LockCompleted
		r.logger.Info("workflow already dispatched to stage queues",
			logging.String(logging.FieldWorkflowID, workflowID))
		return Result{AlreadyProcessing: true}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if status == workflow.StatusCompleted || status == workflow.StatusCompletedNeedsReview {
		final = workflow.LockCompleted
	}
	return Result{Status: status}, nil
}

func (r *Runner) drive(ctx context.Context, workflowID string) (workflow.Status, error) {
	rec, err := r.claim(ctx, workflowID)
	if err != nil {
		return "", err
	}
	if rec.Status.IsTerminal() {
		return rec.Status, nil
	}

	attempt := 1
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		job := broker.Job{
			WorkflowID: rec.ID,
			SubjectID:  rec.SubjectID,
			TenantID:   rec.TenantID,
			Stage:      rec.CurrentStage,
			Attempt:    attempt,
		}
		decision := r.exec.Handle(ctx, job)

		switch decision.Action {
		case broker.Retry:
			attempt++
			select {
			case <-time.After(decision.Delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		case broker.Drop:
			return "", fmt.Errorf("stage %s dropped for workflow %s", job.Stage, workflowID)
		default:
			attempt = 1
		}

		rec, err = r.store.GetRecord(ctx, workflowID)
		if err != nil {
			return "", err
		}
		if rec == nil {
			return "", fmt.Errorf("workflow %s: %w", workflowID, store.ErrNotFound)
		}
		if rec.Status.IsTerminal() {
			return rec.Status, nil
		}
	}
}

// claim moves the record to processing and points it at its current
// (or first) stage before the stage loop starts.
func (r *Runner) claim(ctx context.Context, workflowID string) (*workflow.Record, error) {
	rec, err := r.store.GetRecord(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, store.ErrNotFound)
	}
	if rec.Status.IsTerminal() {
		return rec, nil
	}
	// A processing record with recent updates belongs to the distributed
	// executor (or another runner); only stuck ones may be taken over.
	if rec.Status == workflow.StatusProcessing && time.Since(rec.UpdatedAt) < r.stuck {
		return nil, errClaimedElsewhere
	}
	if rec.CurrentStage == "" {
		rec.CurrentStage = r.exec.FirstStage()
	}
	rec.Status = workflow.StatusProcessing
	if err := r.store.UpdateRecord(ctx, rec, rec.Version); err != nil {
		return nil, err
	}
	return rec, nil
}
