// Package sweeper recovers workflows that got stuck mid-pipeline. A
// workflow whose subject already has terminal data downstream finished
// its real work; only the bookkeeping died with the process. The
// sweeper force-completes those records (and their sibling in-flight
// workflows for the same subject) with an audit annotation. Stuck
// records without terminal data are left alone: the scheduler's
// stale-processing pass re-dispatches them instead.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/store"
	"docflow/internal/workflow"
)

// SubjectProbe answers whether a subject already has terminal data in
// the downstream system of record.
type SubjectProbe interface {
	HasTerminalData(ctx context.Context, subjectID string) (bool, error)
}

// Sweeper periodically scans for stuck workflows.
type Sweeper struct {
	store    *store.Store
	probe    SubjectProbe
	cfg      *config.Config
	logger   *slog.Logger
	cron     *cron.Cron
	inflight atomic.Bool
	now      func() time.Time
}

// New builds a sweeper. Call Start to begin the cron loop.
func New(st *store.Store, probe SubjectProbe, cfg *config.Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{
		store:  st,
		probe:  probe,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "sweeper"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Test use only.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Start registers the cron entry and begins sweeping.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithSeconds())
	_, err := s.cron.AddFunc(s.cfg.Workflow.SweeperSpec, func() {
		if !s.inflight.CompareAndSwap(false, true) {
			return
		}
		defer s.inflight.Store(false)
		if err := s.Sweep(ctx); err != nil {
			s.logger.Error("sweep failed", logging.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for a running sweep.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep runs one recovery pass. Exported for tests and the operator
// CLI. Repeated sweeps over the same records are no-ops: the first
// force-complete moves them to a terminal status and terminal records
// never match the stuck query again.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.StuckThreshold())
	stuck, err := s.store.ListStuckProcessing(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, rec := range stuck {
		done, err := s.probe.HasTerminalData(ctx, rec.SubjectID)
		if err != nil {
			s.logger.Warn("subject probe failed",
				logging.String(logging.FieldWorkflowID, rec.ID),
				logging.String(logging.FieldSubjectID, rec.SubjectID),
				logging.Error(err))
			continue
		}
		if !done {
			// Real stuck work; leave it for the scheduler to re-dispatch.
			continue
		}
		if err := s.forceCompleteSubject(ctx, rec.SubjectID); err != nil {
			s.logger.Warn("force complete failed",
				logging.String(logging.FieldSubjectID, rec.SubjectID),
				logging.Error(err))
		}
	}
	return nil
}

// forceCompleteSubject closes out every in-flight workflow for the
// subject, not just the stuck one: once terminal data exists, any
// sibling run for the same subject would only duplicate it.
func (s *Sweeper) forceCompleteSubject(ctx context.Context, subjectID string) error {
	records, err := s.store.ListBySubject(ctx, subjectID)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.Status.IsTerminal() {
			continue
		}
		if err := s.forceComplete(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sweeper) forceComplete(ctx context.Context, rec *workflow.Record) error {
	rec.Metadata.AutoFixApplied = true
	rec.Metadata.AutoFixReason = "subject has terminal downstream data; workflow force-completed by sweeper"
	rec.Metadata.AppendHistory(rec.CurrentStage, workflow.HistoryCompleted, "force-completed by sweeper")
	rec.Complete()

	err := s.store.UpdateRecord(ctx, rec, rec.Version)
	if errors.Is(err, store.ErrVersionConflict) {
		// Someone else advanced or completed it; the next sweep will
		// see the fresh state.
		s.logger.Debug("force complete lost race",
			logging.String(logging.FieldWorkflowID, rec.ID))
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("force-completed stuck workflow",
		logging.String(logging.FieldWorkflowID, rec.ID),
		logging.String(logging.FieldSubjectID, rec.SubjectID),
		logging.String(logging.FieldStage, rec.CurrentStage))
	return nil
}
