package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docflow/internal/workflow"
)

const recordColumns = "id, subject_id, tenant_id, status, current_stage, stages_completed, stages_total, progress_percent, metadata_json, error_message, error_category, needs_review, review_reason, created_at, updated_at, completed_at, version"

// CreateRecord inserts a new workflow record in pending state. A missing ID
// is assigned; timestamps and version are always set by the store.
func (s *Store) CreateRecord(ctx context.Context, rec *workflow.Record) error {
	if rec == nil {
		return errors.New("record is nil")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = workflow.StatusPending
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Version = 1

	metadataJSON, err := workflow.MarshalMetadata(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO workflow_records (
            id, subject_id, tenant_id, status, current_stage,
            stages_completed, stages_total, progress_percent, metadata_json,
            error_message, error_category, needs_review, review_reason,
            created_at, updated_at, completed_at, version
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.SubjectID,
		rec.TenantID,
		rec.Status,
		nullableString(rec.CurrentStage),
		rec.StagesCompleted,
		rec.StagesTotal,
		rec.ProgressPercent,
		metadataJSON,
		nullableString(rec.ErrorMessage),
		nullableString(rec.ErrorCategory),
		boolToInt(rec.NeedsReview),
		nullableString(rec.ReviewReason),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		nullableTime(rec.CompletedAt),
		rec.Version,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// GetRecord fetches a workflow record by identifier. A missing record yields
// (nil, nil) so callers can distinguish absence from infrastructure failure.
func (s *Store) GetRecord(ctx context.Context, id string) (*workflow.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM workflow_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// UpdateRecord persists changes conditionally: the write succeeds only when
// the stored version still matches expectedVersion. On success the record's
// version and updated timestamp are advanced in place.
func (s *Store) UpdateRecord(ctx context.Context, rec *workflow.Record, expectedVersion int64) error {
	if rec == nil {
		return errors.New("record is nil")
	}
	metadataJSON, err := workflow.MarshalMetadata(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	now := time.Now().UTC()

	res, err := s.execWithRetry(
		ctx,
		`UPDATE workflow_records
         SET status = ?, current_stage = ?, stages_completed = ?, stages_total = ?,
             progress_percent = ?, metadata_json = ?, error_message = ?, error_category = ?,
             needs_review = ?, review_reason = ?, updated_at = ?, completed_at = ?,
             version = version + 1
         WHERE id = ? AND version = ?`,
		rec.Status,
		nullableString(rec.CurrentStage),
		rec.StagesCompleted,
		rec.StagesTotal,
		rec.ProgressPercent,
		metadataJSON,
		nullableString(rec.ErrorMessage),
		nullableString(rec.ErrorCategory),
		boolToInt(rec.NeedsReview),
		nullableString(rec.ReviewReason),
		now.Format(time.RFC3339Nano),
		nullableTime(rec.CompletedAt),
		rec.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	rec.Version = expectedVersion + 1
	rec.UpdatedAt = now
	return nil
}

// ListByStatus returns records matching any provided status, oldest first.
func (s *Store) ListByStatus(ctx context.Context, statuses ...workflow.Status) ([]*workflow.Record, error) {
	baseQuery := `SELECT ` + recordColumns + ` FROM workflow_records`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListDue returns the scheduler's work set: pending records plus processing
// records whose last update predates the stuck cutoff.
func (s *Store) ListDue(ctx context.Context, stuckCutoff time.Time) ([]*workflow.Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+recordColumns+` FROM workflow_records
         WHERE status = ? OR (status = ? AND updated_at < ?)
         ORDER BY created_at`,
		workflow.StatusPending,
		workflow.StatusProcessing,
		stuckCutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("list due records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListStuckProcessing returns processing records not updated since the cutoff.
func (s *Store) ListStuckProcessing(ctx context.Context, cutoff time.Time) ([]*workflow.Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+recordColumns+` FROM workflow_records
         WHERE status = ? AND updated_at < ?
         ORDER BY created_at`,
		workflow.StatusProcessing,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("list stuck records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListBySubject returns every workflow for a subject entity, oldest first.
func (s *Store) ListBySubject(ctx context.Context, subjectID string) ([]*workflow.Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+recordColumns+` FROM workflow_records WHERE subject_id = ? ORDER BY created_at`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list by subject: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]*workflow.Record, error) {
	var records []*workflow.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*workflow.Record, error) {
	var (
		id              string
		subjectID       string
		tenantID        string
		statusStr       string
		currentStage    sql.NullString
		stagesCompleted int
		stagesTotal     int
		progressPercent float64
		metadataRaw     sql.NullString
		errorMessage    sql.NullString
		errorCategory   sql.NullString
		needsReview     sql.NullInt64
		reviewReason    sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
		completedRaw    sql.NullString
		version         int64
	)

	if err := scanner.Scan(
		&id,
		&subjectID,
		&tenantID,
		&statusStr,
		&currentStage,
		&stagesCompleted,
		&stagesTotal,
		&progressPercent,
		&metadataRaw,
		&errorMessage,
		&errorCategory,
		&needsReview,
		&reviewReason,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
		&version,
	); err != nil {
		return nil, err
	}

	meta, err := workflow.UnmarshalMetadata(metadataRaw.String)
	if err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", id, err)
	}

	rec := &workflow.Record{
		ID:              id,
		SubjectID:       subjectID,
		TenantID:        tenantID,
		Status:          workflow.Status(statusStr),
		CurrentStage:    currentStage.String,
		StagesCompleted: stagesCompleted,
		StagesTotal:     stagesTotal,
		ProgressPercent: progressPercent,
		Metadata:        meta,
		ErrorMessage:    errorMessage.String,
		ErrorCategory:   errorCategory.String,
		ReviewReason:    reviewReason.String,
		Version:         version,
	}
	if needsReview.Valid {
		rec.NeedsReview = needsReview.Int64 != 0
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		rec.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		rec.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			rec.CompletedAt = &completed
		}
	}
	return rec, nil
}
