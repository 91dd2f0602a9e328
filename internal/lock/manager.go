// Package lock implements the time-boxed exclusive execution claim used by
// the sequential runner. Locks live inside the workflow record's metadata
// column and are acquired, renewed, and released through versioned store
// updates, so two competing holders can never both win.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"docflow/internal/logging"
	"docflow/internal/store"
	"docflow/internal/workflow"
)

var (
	// ErrAlreadyHeld means another holder owns an active lease on the record.
	ErrAlreadyHeld = errors.New("workflow lock already held")
	// ErrLockLost means the caller's lock was reclaimed or replaced, so the
	// holder no longer has exclusive rights.
	ErrLockLost = errors.New("workflow lock lost")
)

// casAttempts bounds the retry loop on version conflicts. Conflicts are
// rare in practice; a handful of retries is plenty.
const casAttempts = 5

// Manager hands out lock handles scoped to a single process identity.
type Manager struct {
	store  *store.Store
	holder string
	lease  time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewManager builds a lock manager. holder identifies this process in
// persisted lock records (typically hostname plus pid).
func NewManager(st *store.Store, holder string, lease time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		store:  st,
		holder: holder,
		lease:  lease,
		logger: logging.NewComponentLogger(logger, "lock"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Test use only.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Handle is proof of a successful acquisition. All renew and release
// calls go through the handle so the lock ID check cannot be skipped.
type Handle struct {
	WorkflowID string
	LockID     string
}

// Acquire claims exclusive execution rights for a workflow record. An
// active lease owned by anyone (including this holder) fails with
// ErrAlreadyHeld. A stale running lease is reclaimed and the displaced
// lock ID is recorded on the new lock.
func (m *Manager) Acquire(ctx context.Context, workflowID string) (*Handle, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		rec, err := m.store.GetRecord(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("acquire lock: %w", store.ErrNotFound)
		}

		now := m.now()
		prev := rec.Metadata.Lock
		if prev.Active(m.lease, now) {
			return nil, fmt.Errorf("%w by %s since %s", ErrAlreadyHeld, prev.Holder, prev.AcquiredAt.Format(time.RFC3339))
		}

		next := &workflow.LockInfo{
			LockID:     uuid.NewString(),
			Holder:     m.holder,
			Status:     workflow.LockRunning,
			AcquiredAt: now,
		}
		if prev.Stale(m.lease, now) {
			next.ReclaimedFrom = prev.LockID
			m.logger.Warn("reclaiming stale lock",
				logging.String(logging.FieldWorkflowID, workflowID),
				logging.String("previous_holder", prev.Holder),
				logging.String("previous_lock_id", prev.LockID))
		}
		rec.Metadata.Lock = next

		err = m.store.UpdateRecord(ctx, rec, rec.Version)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m.logger.Debug("lock acquired",
			logging.String(logging.FieldWorkflowID, workflowID),
			logging.String("lock_id", next.LockID))
		return &Handle{WorkflowID: workflowID, LockID: next.LockID}, nil
	}
	return nil, fmt.Errorf("acquire lock for %s: too many version conflicts", workflowID)
}

// Renew extends the lease by resetting the acquisition timestamp. It
// fails with ErrLockLost when the persisted lock no longer matches the
// handle, which happens after a stale reclaim by another holder.
func (m *Manager) Renew(ctx context.Context, h *Handle) error {
	return m.mutate(ctx, h, func(l *workflow.LockInfo) {
		l.AcquiredAt = m.now()
	})
}

// Release writes the terminal lock status. It runs even when the lease
// has expired: a slow holder that finished late must still record its
// outcome so operators can distinguish "finished late" from "died".
func (m *Manager) Release(ctx context.Context, h *Handle, final workflow.LockStatus) error {
	return m.mutate(ctx, h, func(l *workflow.LockInfo) {
		now := m.now()
		l.Status = final
		l.ReleasedAt = &now
	})
}

func (m *Manager) mutate(ctx context.Context, h *Handle, apply func(*workflow.LockInfo)) error {
	if h == nil {
		return errors.New("nil lock handle")
	}
	for attempt := 0; attempt < casAttempts; attempt++ {
		rec, err := m.store.GetRecord(ctx, h.WorkflowID)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("lock %s: %w", h.LockID, store.ErrNotFound)
		}
		cur := rec.Metadata.Lock
		if cur == nil || cur.LockID != h.LockID {
			return fmt.Errorf("%w: record %s carries a different lock", ErrLockLost, h.WorkflowID)
		}
		apply(cur)

		err = m.store.UpdateRecord(ctx, rec, rec.Version)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("lock %s: too many version conflicts", h.LockID)
}
