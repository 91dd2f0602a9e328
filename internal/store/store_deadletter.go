package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"docflow/internal/workflow"
)

const deadLetterColumns = "id, workflow_id, stage_name, error_category, error_message, attempt_count, first_failed_at, can_retry, retried_at"

// AddDeadLetter records a stage failure that will not be retried automatically.
func (s *Store) AddDeadLetter(ctx context.Context, entry *workflow.DeadLetterEntry) error {
	if entry == nil {
		return errors.New("dead-letter entry is nil")
	}
	if entry.FirstFailedAt.IsZero() {
		entry.FirstFailedAt = time.Now().UTC()
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO dead_letter_entries (
            workflow_id, stage_name, error_category, error_message,
            attempt_count, first_failed_at, can_retry
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.WorkflowID,
		entry.StageName,
		entry.ErrorCategory,
		nullableString(entry.ErrorMessage),
		entry.AttemptCount,
		entry.FirstFailedAt.UTC().Format(time.RFC3339Nano),
		boolToInt(entry.CanRetry),
	)
	if err != nil {
		return fmt.Errorf("insert dead-letter entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// GetDeadLetter fetches one entry by identifier.
func (s *Store) GetDeadLetter(ctx context.Context, id int64) (*workflow.DeadLetterEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deadLetterColumns+` FROM dead_letter_entries WHERE id = ?`, id)
	entry, err := scanDeadLetter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dead-letter entry: %w", err)
	}
	return entry, nil
}

// ListDeadLetters returns entries, optionally including already-retried ones,
// newest failure first.
func (s *Store) ListDeadLetters(ctx context.Context, includeRetried bool) ([]*workflow.DeadLetterEntry, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letter_entries`
	if !includeRetried {
		query += ` WHERE retried_at IS NULL`
	}
	query += ` ORDER BY first_failed_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list dead-letter entries: %w", err)
	}
	defer rows.Close()

	var entries []*workflow.DeadLetterEntry
	for rows.Next() {
		entry, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkDeadLetterRetried stamps an entry as manually retried. The update is
// conditional on the entry being retryable and not yet retried, so two
// operators racing on the same entry produce one re-enqueue.
func (s *Store) MarkDeadLetterRetried(ctx context.Context, id int64) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE dead_letter_entries SET retried_at = ? WHERE id = ? AND can_retry = 1 AND retried_at IS NULL`,
		now,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("mark dead-letter retried: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func scanDeadLetter(scanner interface{ Scan(dest ...any) error }) (*workflow.DeadLetterEntry, error) {
	var (
		id           int64
		workflowID   string
		stageName    string
		category     string
		message      sql.NullString
		attemptCount int
		firstFailed  sql.NullString
		canRetry     sql.NullInt64
		retriedRaw   sql.NullString
	)
	if err := scanner.Scan(&id, &workflowID, &stageName, &category, &message, &attemptCount, &firstFailed, &canRetry, &retriedRaw); err != nil {
		return nil, err
	}
	entry := &workflow.DeadLetterEntry{
		ID:            id,
		WorkflowID:    workflowID,
		StageName:     stageName,
		ErrorCategory: category,
		ErrorMessage:  message.String,
		AttemptCount:  attemptCount,
	}
	if canRetry.Valid {
		entry.CanRetry = canRetry.Int64 != 0
	}
	if failedAt, err := parseTimeString(firstFailed.String); err == nil {
		entry.FirstFailedAt = failedAt
	}
	if retriedRaw.Valid {
		if retriedAt, err := parseTimeString(retriedRaw.String); err == nil {
			entry.RetriedAt = &retriedAt
		}
	}
	return entry, nil
}
