// Package scheduler drives the distributed executor. On a cron cadence
// it claims due workflows (pending, plus processing records whose
// updates stopped long enough ago to count as stuck), marks them
// processing via a versioned update, and enqueues exactly one stage job
// each. It never waits for stage completion; the worker consumers chain
// the rest of the pipeline themselves.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"docflow/internal/broker"
	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/stage"
	"docflow/internal/store"
	"docflow/internal/workflow"
)

// Scheduler periodically dispatches due workflows to the stage queues.
type Scheduler struct {
	store    *store.Store
	broker   broker.Broker
	registry *stage.Registry
	cfg      *config.Config
	logger   *slog.Logger
	cron     *cron.Cron
	inflight atomic.Bool
	now      func() time.Time
}

// New builds a scheduler. Call Start to begin ticking.
func New(st *store.Store, b broker.Broker, reg *stage.Registry, cfg *config.Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		store:    st,
		broker:   b,
		registry: reg,
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "scheduler"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Test use only.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start registers the cron entry and begins ticking. Overlapping ticks
// are skipped rather than queued.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithSeconds())
	_, err := s.cron.AddFunc(s.cfg.Workflow.SchedulerSpec, func() {
		if !s.inflight.CompareAndSwap(false, true) {
			s.logger.Debug("previous tick still running, skipping")
			return
		}
		defer s.inflight.Store(false)
		if err := s.Tick(ctx); err != nil {
			s.logger.Error("tick failed", logging.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Tick runs one scheduling pass. Exported so the sequential deployment
// mode and tests can drive scheduling without cron.
func (s *Scheduler) Tick(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.StuckThreshold())
	due, err := s.store.ListDue(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	for _, rec := range s.dedupeBySubject(due) {
		if err := s.dispatch(ctx, rec); err != nil {
			s.logger.Warn("dispatch failed",
				logging.String(logging.FieldWorkflowID, rec.ID),
				logging.Error(err))
		}
	}
	return nil
}

// dedupeBySubject keeps one record per subject, preferring the earliest
// created. Running two workflows for the same subject concurrently
// risks conflicting writes downstream.
func (s *Scheduler) dedupeBySubject(due []*workflow.Record) []*workflow.Record {
	chosen := make(map[string]*workflow.Record, len(due))
	for _, rec := range due {
		cur, ok := chosen[rec.SubjectID]
		if !ok || rec.CreatedAt.Before(cur.CreatedAt) {
			chosen[rec.SubjectID] = rec
		}
	}
	out := make([]*workflow.Record, 0, len(chosen))
	for _, rec := range due {
		if chosen[rec.SubjectID] == rec {
			out = append(out, rec)
			continue
		}
		s.logger.Info("skipping duplicate subject workflow",
			logging.String(logging.FieldWorkflowID, rec.ID),
			logging.String(logging.FieldSubjectID, rec.SubjectID),
			logging.String("chosen", chosen[rec.SubjectID].ID))
	}
	return out
}

func (s *Scheduler) dispatch(ctx context.Context, rec *workflow.Record) error {
	next := rec.CurrentStage
	if next == "" {
		next = s.registry.First()
	}

	rec.Status = workflow.StatusProcessing
	rec.CurrentStage = next
	err := s.store.UpdateRecord(ctx, rec, rec.Version)
	if errors.Is(err, store.ErrVersionConflict) {
		// Another scheduler or worker claimed it between the query and
		// now. That instance owns the dispatch.
		s.logger.Debug("lost claim race",
			logging.String(logging.FieldWorkflowID, rec.ID))
		return nil
	}
	if err != nil {
		return err
	}

	job := broker.Job{
		WorkflowID: rec.ID,
		SubjectID:  rec.SubjectID,
		TenantID:   rec.TenantID,
		Stage:      next,
	}
	if err := s.broker.Enqueue(ctx, job); err != nil {
		return err
	}
	s.logger.Info("dispatched workflow",
		logging.String(logging.FieldWorkflowID, rec.ID),
		logging.String(logging.FieldTenantID, rec.TenantID),
		logging.String(logging.FieldStage, next))
	return nil
}
