package store

import (
	"context"
	"fmt"
	"time"

	"docflow/internal/workflow"
)

// ResetFailed moves a failed workflow back to pending. This is the only
// supported backward transition and exists solely for operator use; the
// update is conditional on the record still being failed.
func (s *Store) ResetFailed(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE workflow_records
         SET status = ?, current_stage = NULL, error_message = NULL, error_category = NULL,
             needs_review = 0, review_reason = NULL,
             completed_at = NULL, updated_at = ?, version = version + 1
         WHERE id = ? AND status = ?`,
		workflow.StatusPending,
		now,
		id,
		workflow.StatusFailed,
	)
	if err != nil {
		return false, fmt.Errorf("reset failed record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// TouchProcessing refreshes updated_at on an in-flight record so the stuck
// detector does not reclaim a workflow whose stage is legitimately slow.
func (s *Store) TouchProcessing(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(
		ctx,
		`UPDATE workflow_records SET updated_at = ? WHERE id = ? AND status = ?`,
		now,
		id,
		workflow.StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("touch processing record: %w", err)
	}
	return nil
}
