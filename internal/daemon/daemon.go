package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"docflow/internal/api"
	"docflow/internal/broker"
	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/notifications"
	"docflow/internal/runner"
	"docflow/internal/scheduler"
	"docflow/internal/stage"
	"docflow/internal/stages"
	"docflow/internal/store"
	"docflow/internal/sweeper"
	"docflow/internal/worker"
	"docflow/internal/workflow"
)

// Dependencies carries the external collaborators the stage handlers and the
// sweeper probe against. Tests substitute fakes here.
type Dependencies struct {
	Stages stages.Collaborators
	Probe  sweeper.SubjectProbe
}

// Daemon coordinates the background orchestration services and enforces
// single-instance execution per data directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	broker   broker.Broker
	registry *stage.Registry
	notifier notifications.Service

	exec      *worker.Worker
	scheduler *scheduler.Scheduler
	sweeper   *sweeper.Sweeper
	runner    *runner.Runner
	service   *api.WorkflowService
	apiServer *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	StorePath    string
	LockFilePath string
	Health       api.HealthView
	StageHealth  []stage.Health
}

// New constructs a daemon with initialized dependencies. The broker connection
// is established immediately so misconfiguration surfaces before Start.
func New(ctx context.Context, cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry, err := stages.BuildRegistry(cfg, deps.Stages)
	if err != nil {
		st.Close()
		return nil, err
	}

	b, err := broker.New(ctx, cfg, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("connect broker: %w", err)
	}

	notifier := notifications.NewService(cfg)
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		broker:   b,
		registry: registry,
		notifier: notifier,
		lockPath: filepath.Join(cfg.Paths.DataDir, "docflowd.lock"),
	}
	d.lock = flock.New(d.lockPath)
	d.exec = worker.New(st, b, registry, cfg, notifier, logger)
	d.scheduler = scheduler.New(st, b, registry, cfg, logger)
	d.runner = runner.New(st, registry, cfg, instanceHolder(), notifier, logger)
	if deps.Probe != nil {
		d.sweeper = sweeper.New(st, deps.Probe, cfg, logger)
	}
	d.service = api.NewWorkflowService(st, b)
	d.apiServer = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock and launches the consumers, scheduler,
// sweeper, and the operator API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return errors.New("another docflow daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.exec.Start(runCtx); err != nil {
		d.teardown()
		return fmt.Errorf("start worker: %w", err)
	}
	if err := d.scheduler.Start(runCtx); err != nil {
		d.teardown()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if d.sweeper != nil {
		if err := d.sweeper.Start(runCtx); err != nil {
			d.teardown()
			return fmt.Errorf("start sweeper: %w", err)
		}
	}
	if d.apiServer != nil {
		if err := d.apiServer.start(runCtx); err != nil {
			d.teardown()
			return fmt.Errorf("start api server: %w", err)
		}
	}

	d.running.Store(true)
	d.logger.Info("docflow daemon started",
		logging.String("lock", d.lockPath),
		logging.String("store", d.store.Path()))
	return nil
}

// Stop halts background processing and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.teardown()
	d.running.Store(false)
	d.logger.Info("docflow daemon stopped")
}

func (d *Daemon) teardown() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.apiServer != nil {
		d.apiServer.stop()
	}
	d.scheduler.Stop()
	if d.sweeper != nil {
		d.sweeper.Stop()
	}
	if d.broker != nil {
		if err := d.broker.Close(); err != nil {
			d.logger.Warn("broker close failed", logging.Error(err))
		}
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release instance lock failed", logging.Error(err))
	}
}

// Close stops the daemon and releases the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr reports the bound operator API address, or "" when disabled.
func (d *Daemon) APIAddr() string {
	return d.apiServer.Addr()
}

// LogFilePath reports the daemon log file served by the logs endpoint.
func (d *Daemon) LogFilePath() string {
	return logging.FilePath(d.cfg.Paths.LogDir)
}

// Service exposes the operator API service backing the HTTP surface.
func (d *Daemon) Service() *api.WorkflowService {
	return d.service
}

// Ingest registers a new workflow for a document. When inline is requested the
// full pipeline runs asynchronously in this process instead of waiting for the
// scheduler; the returned record reflects the pending state either way.
func (d *Daemon) Ingest(ctx context.Context, subjectID, tenantID string, payload map[string]any, inline bool) (*workflow.Record, error) {
	subjectID = strings.TrimSpace(subjectID)
	tenantID = strings.TrimSpace(tenantID)
	if subjectID == "" {
		return nil, errors.New("subject id is required")
	}
	if tenantID == "" {
		return nil, errors.New("tenant id is required")
	}

	rec := &workflow.Record{
		SubjectID:   subjectID,
		TenantID:    tenantID,
		StagesTotal: d.registry.Len(),
	}
	rec.Metadata.MergePayload(payload)
	if err := d.store.CreateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	d.logger.Info("workflow ingested",
		logging.String(logging.FieldWorkflowID, rec.ID),
		logging.String(logging.FieldTenantID, tenantID),
		logging.Bool("inline", inline))

	if inline {
		go d.runInline(rec.ID)
	}
	return rec, nil
}

// RunWorkflow drives a single workflow through the full pipeline in-process,
// blocking until it reaches a terminal state or ctx expires.
func (d *Daemon) RunWorkflow(ctx context.Context, workflowID string) (runner.Result, error) {
	return d.runner.Run(ctx, workflowID)
}

func (d *Daemon) runInline(workflowID string) {
	timeout := d.cfg.InlineRunTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := d.runner.Run(ctx, workflowID)
	if err != nil {
		d.logger.Error("inline run failed",
			logging.String(logging.FieldWorkflowID, workflowID),
			logging.Error(err))
		return
	}
	if result.AlreadyProcessing {
		d.logger.Info("inline run skipped, workflow already claimed",
			logging.String(logging.FieldWorkflowID, workflowID))
	}
}

// TestNotification triggers a test webhook delivery with the current settings.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.WebhookURL) == "" {
		return false, "notification webhook not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to deliver test notification", err
	}
	return true, "test notification delivered", nil
}

// Status returns the current daemon status including store and stage health.
func (d *Daemon) Status(ctx context.Context) Status {
	health, err := d.service.Health(ctx)
	if err != nil {
		d.logger.Warn("health query failed", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StorePath:    d.store.Path(),
		LockFilePath: d.lockPath,
		Health:       health,
		StageHealth:  d.registry.HealthChecks(ctx),
	}
}

func instanceHolder() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "docflow"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
