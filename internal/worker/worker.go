// Package worker runs the distributed executor's stage consumers. Each
// pipeline stage gets a broker consumer that loads the workflow record,
// guards against stale or terminal deliveries, invokes the stage
// handler, persists the outcome, and chain-enqueues the next stage so
// the pipeline does not wait for another scheduler tick.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"docflow/internal/broker"
	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/notifications"
	"docflow/internal/router"
	"docflow/internal/services"
	"docflow/internal/stage"
	"docflow/internal/store"
	"docflow/internal/workflow"
)

// extractStage is the stage whose result passes through the confidence
// gate before the pipeline continues.
const extractStage = "extract"

// casAttempts bounds the persist loop on version conflicts.
const casAttempts = 5

// Worker wires the stage registry to broker consumers.
type Worker struct {
	store    *store.Store
	broker   broker.Broker
	registry *stage.Registry
	gate     router.Gate
	policy   router.RetryPolicy
	notifier notifications.Service
	logger   *slog.Logger
}

// New builds a worker pool over the given collaborators.
func New(st *store.Store, b broker.Broker, reg *stage.Registry, cfg *config.Config, notifier notifications.Service, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.Noop()
	}
	return &Worker{
		store:    st,
		broker:   b,
		registry: reg,
		gate:     router.NewGate(cfg.Gate),
		policy:   router.PolicyFromConfig(cfg),
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "worker"),
	}
}

// FirstStage returns the opening stage of the pipeline.
func (w *Worker) FirstStage() string {
	return w.registry.First()
}

// Start registers a consumer for every pipeline stage.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.registry.Validate(); err != nil {
		return err
	}
	for _, name := range w.registry.Order() {
		name := name
		if err := w.broker.Consume(ctx, name, func(ctx context.Context, job broker.Job) broker.Decision {
			return w.Handle(ctx, job)
		}); err != nil {
			return fmt.Errorf("start consumer for %s: %w", name, err)
		}
		w.logger.Info("consumer started", logging.String(logging.FieldStage, name))
	}
	return nil
}

// Handle processes one job delivery. Exported so the sequential
// runner and tests can drive stage execution without a live broker
// consumer.
func (w *Worker) Handle(ctx context.Context, job broker.Job) broker.Decision {
	log := w.logger.With(
		logging.String(logging.FieldWorkflowID, job.WorkflowID),
		logging.String(logging.FieldStage, job.Stage),
		logging.Int(logging.FieldAttempt, job.Attempt))

	rec, err := w.store.GetRecord(ctx, job.WorkflowID)
	if err != nil {
		log.Warn("load record failed", logging.Error(err))
		return broker.Decision{Action: broker.Retry, Delay: w.policy.Backoff(job.Attempt)}
	}
	if rec == nil {
		log.Warn("job references unknown workflow")
		return broker.Decision{Action: broker.Drop}
	}
	// Cancellation semantics: a job for a workflow that has already
	// reached a terminal status is acknowledged without side effects.
	if rec.Status.IsTerminal() {
		log.Debug("workflow already terminal, ignoring job")
		return broker.Decision{Action: broker.Done}
	}
	// A job for a stage the workflow has moved past is a duplicate
	// delivery; replaying it would double-execute the stage.
	if rec.CurrentStage != "" && rec.CurrentStage != job.Stage {
		log.Debug("stale stage job, ignoring",
			logging.String("current_stage", rec.CurrentStage))
		return broker.Decision{Action: broker.Done}
	}

	handler, ok := w.registry.Handler(job.Stage)
	if !ok {
		log.Error("no handler registered for stage")
		return broker.Decision{Action: broker.Drop}
	}

	ctx = services.WithWorkflowID(ctx, job.WorkflowID)
	ctx = services.WithTenant(ctx, job.TenantID)
	ctx = services.WithStage(ctx, job.Stage)

	// Refresh the liveness timestamp before a potentially long handler
	// call so the scheduler does not reclaim a legitimately slow stage
	// as stuck mid-execution.
	if err := w.store.TouchProcessing(ctx, job.WorkflowID); err != nil {
		log.Warn("touch processing failed", logging.Error(err))
	}

	input := make(map[string]any, len(rec.Metadata.Payload)+len(job.Payload))
	for k, v := range rec.Metadata.Payload {
		input[k] = v
	}
	for k, v := range job.Payload {
		input[k] = v
	}

	result, execErr := handler.Execute(ctx, stage.Request{
		WorkflowID: job.WorkflowID,
		SubjectID:  job.SubjectID,
		TenantID:   job.TenantID,
		Stage:      job.Stage,
		Attempt:    job.Attempt,
		Input:      input,
	})
	if execErr != nil {
		return w.handleFailure(ctx, log, rec, job, execErr)
	}
	return w.handleSuccess(ctx, log, rec, job, result)
}

func (w *Worker) handleSuccess(ctx context.Context, log *slog.Logger, rec *workflow.Record, job broker.Job, result stage.Result) broker.Decision {
	var nextStage string
	err := w.persist(ctx, rec, func(r *workflow.Record) error {
		r.Metadata.MergePayload(result.Output)
		r.Metadata.AppendHistory(job.Stage, workflow.HistoryCompleted, "")

		if job.Stage == extractStage {
			switch outcome := w.gate.Evaluate(result.Confidence); outcome {
			case router.Reject:
				r.SetFailed(
					fmt.Sprintf("extraction confidence %.2f below reject cutoff", result.Confidence),
					string(services.CategoryLowConfidence))
				log.Warn("extraction rejected",
					logging.Float64("confidence", result.Confidence))
				return nil
			case router.ManualReview:
				r.NeedsReview = true
				r.ReviewReason = fmt.Sprintf("extraction confidence %.2f requires review", result.Confidence)
				log.Info("extraction flagged for review",
					logging.Float64("confidence", result.Confidence))
			case router.AutoApprove:
				// Every extraction re-decides the review flag; a reset
				// workflow must not keep a stale first-run reason.
				r.NeedsReview = false
				r.ReviewReason = ""
			}
		}

		r.SetProgress(w.registry.Position(job.Stage)+1, w.registry.Len())
		nextStage = w.registry.Next(job.Stage)
		if nextStage == "" {
			r.Complete()
		} else {
			r.CurrentStage = nextStage
		}
		return nil
	})
	if err != nil {
		log.Warn("persist stage result failed", logging.Error(err))
		return broker.Decision{Action: broker.Retry, Delay: w.policy.Backoff(job.Attempt)}
	}

	w.notifyTerminal(ctx, log, rec)

	if nextStage != "" && !rec.Status.IsTerminal() {
		next := broker.Job{
			WorkflowID: job.WorkflowID,
			SubjectID:  job.SubjectID,
			TenantID:   job.TenantID,
			Stage:      nextStage,
		}
		if err := w.broker.Enqueue(ctx, next); err != nil {
			// The scheduler's stuck-record pass will re-dispatch.
			log.Warn("chain enqueue failed", logging.Error(err))
		}
	}
	log.Info("stage completed",
		logging.String("next_stage", nextStage),
		logging.String("status", string(rec.Status)))
	return broker.Decision{Action: broker.Done}
}

func (w *Worker) handleFailure(ctx context.Context, log *slog.Logger, rec *workflow.Record, job broker.Job, execErr error) broker.Decision {
	verdict := w.policy.OnFailure(job.Attempt, execErr)
	if verdict.Retry {
		perr := w.persist(ctx, rec, func(r *workflow.Record) error {
			r.Metadata.AppendHistory(job.Stage, workflow.HistoryFailed, execErr.Error())
			return nil
		})
		if perr != nil {
			log.Warn("persist failure history failed", logging.Error(perr))
		}
		log.Warn("stage failed, retrying",
			logging.String(logging.FieldErrorCategory, string(verdict.Classification.Category)),
			logging.Duration("delay", verdict.Delay),
			logging.Error(execErr))
		return broker.Decision{Action: broker.Retry, Delay: verdict.Delay}
	}

	entry := &workflow.DeadLetterEntry{
		WorkflowID:    job.WorkflowID,
		StageName:     job.Stage,
		ErrorCategory: string(verdict.Classification.Category),
		ErrorMessage:  execErr.Error(),
		AttemptCount:  job.Attempt,
		CanRetry:      verdict.Classification.Retryable,
	}
	if err := w.store.AddDeadLetter(ctx, entry); err != nil {
		log.Error("record dead letter failed", logging.Error(err))
	}
	perr := w.persist(ctx, rec, func(r *workflow.Record) error {
		r.Metadata.AppendHistory(job.Stage, workflow.HistoryFailed, execErr.Error())
		r.SetFailed(execErr.Error(), string(verdict.Classification.Category))
		return nil
	})
	if perr != nil {
		log.Error("persist failed status failed", logging.Error(perr))
		return broker.Decision{Action: broker.Retry, Delay: w.policy.Backoff(job.Attempt)}
	}
	w.notifyTerminal(ctx, log, rec)
	log.Error("stage exhausted retries",
		logging.String(logging.FieldErrorCategory, string(verdict.Classification.Category)),
		logging.Error(execErr))
	return broker.Decision{Action: broker.Done}
}

// notifyTerminal emits the tenant webhook event matching a terminal
// status. Delivery failures are logged, never surfaced: notification is
// best-effort and must not affect workflow state.
func (w *Worker) notifyTerminal(ctx context.Context, log *slog.Logger, rec *workflow.Record) {
	var err error
	switch rec.Status {
	case workflow.StatusCompleted:
		err = w.notifier.NotifyCompleted(ctx, rec.ID, rec.SubjectID, rec.TenantID)
	case workflow.StatusCompletedNeedsReview:
		err = w.notifier.NotifyNeedsReview(ctx, rec.ID, rec.SubjectID, rec.TenantID, rec.ReviewReason)
	case workflow.StatusFailed:
		err = w.notifier.NotifyFailed(ctx, rec.ID, rec.SubjectID, rec.TenantID, rec.ErrorMessage)
	default:
		return
	}
	if err != nil {
		log.Warn("tenant notification failed", logging.Error(err))
	}
}

// persist applies apply to the freshest copy of the record under the
// versioned-update discipline, retrying on conflicts. rec is updated in
// place with the winning state.
func (w *Worker) persist(ctx context.Context, rec *workflow.Record, apply func(*workflow.Record) error) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		if err := apply(rec); err != nil {
			return err
		}
		err := w.store.UpdateRecord(ctx, rec, rec.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
		fresh, gerr := w.store.GetRecord(ctx, rec.ID)
		if gerr != nil {
			return gerr
		}
		if fresh == nil {
			return store.ErrNotFound
		}
		if fresh.Status.IsTerminal() {
			*rec = *fresh
			return nil
		}
		*rec = *fresh
	}
	return fmt.Errorf("update record %s: too many version conflicts", rec.ID)
}
